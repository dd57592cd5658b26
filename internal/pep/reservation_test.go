package pep

import (
	"context"
	"strings"
	"testing"
)

func TestNextIdentifier(t *testing.T) {
	tests := []struct {
		name         string
		counter, max int64
		want         int64
	}{
		{"empty unit", 0, 0, 1},
		{"counter in step", 41, 41, 42},
		{"counter ahead", 50, 41, 51},
		{"storage ahead of counter", 10, 99, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextIdentifier(tt.counter, tt.max); got != tt.want {
				t.Errorf("NextIdentifier(%d, %d) = %d, want %d", tt.counter, tt.max, got, tt.want)
			}
		})
	}
}

func TestReserve(t *testing.T) {
	q := &fakeQuerier{counter: 10, max: 99}

	r, err := Reserve(context.Background(), q, "1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if r.ID != 100 || r.CounterBefore != 10 || r.MaxBefore != 99 || r.CounterAfter != 100 {
		t.Errorf("unexpected reservation: %+v", r)
	}
	if q.updatedTo != 100 {
		t.Errorf("expected counter written back as 100, got %d", q.updatedTo)
	}
}

func TestReserve_LockOrder(t *testing.T) {
	q := &fakeQuerier{}
	if _, err := Reserve(context.Background(), q, "1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	order := []string{"ON CONFLICT", "FOR UPDATE", "pg_advisory_xact_lock", "MAX(id)", "UPDATE document_sequence"}
	if len(q.statements) != len(order) {
		t.Fatalf("expected %d statements, got %d", len(order), len(q.statements))
	}
	for i, want := range order {
		if !strings.Contains(q.statements[i], want) {
			t.Errorf("statement %d: expected %q, got %q", i, want, q.statements[i])
		}
	}
}

func TestReserve_Failures(t *testing.T) {
	for _, step := range []string{"ON CONFLICT", "FOR UPDATE", "pg_advisory_xact_lock", "MAX(id)", "UPDATE document_sequence"} {
		t.Run(step, func(t *testing.T) {
			q := &fakeQuerier{failOn: step}
			if _, err := Reserve(context.Background(), q, "1"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
