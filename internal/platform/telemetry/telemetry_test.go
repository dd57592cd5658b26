package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder("")
	r.IncDocument("inserted")
	r.IncDocument("inserted")
	r.IncDocument("skipped_duplicate")
	r.IncFailure("no-local-match")

	if got := r.Documents("inserted"); got != 2 {
		t.Fatalf("expected 2 inserted, got %d", got)
	}
	if got := r.Documents("skipped_duplicate"); got != 1 {
		t.Fatalf("expected 1 skipped, got %d", got)
	}
	if got := r.Failures("no-local-match"); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
	if got := r.Failures("storage-failure"); got != 0 {
		t.Fatalf("expected 0 for unseen reason, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Histograms
// ---------------------------------------------------------------------------

func TestHistogramBuckets_Observation(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 1, 3, 7, 20} {
		h.Observe(v)
	}

	cum := h.cumulativeBuckets()
	expected := []int64{2, 3, 4}
	for i, want := range expected {
		if cum[i] != want {
			t.Errorf("bucket %d: expected %d, got %d", i, want, cum[i])
		}
	}
	if h.Count() != 5 {
		t.Errorf("expected count 5, got %d", h.Count())
	}
	if h.Sum() != 31.5 {
		t.Errorf("expected sum 31.5, got %g", h.Sum())
	}
}

func TestRecorder_ObserveStage(t *testing.T) {
	r := NewRecorder("test")
	r.ObserveStage("download", 120*time.Millisecond)
	r.ObserveStage("download", 80*time.Millisecond)
	r.ObserveStage("store", 10*time.Millisecond)

	if r.StageCount("download") != 2 {
		t.Errorf("expected 2 download observations, got %d", r.StageCount("download"))
	}
	if r.StageCount("mark") != 0 {
		t.Errorf("expected no mark observations, got %d", r.StageCount("mark"))
	}
}

// ---------------------------------------------------------------------------
// Prometheus output
// ---------------------------------------------------------------------------

func TestWritePrometheus_Format(t *testing.T) {
	r := NewRecorder("axreg-sync")
	r.IncDocument("inserted")
	r.IncFailure("download-failure")
	r.ObserveStage("patient", 30*time.Millisecond)
	r.ObservePayload(2048)
	r.SetGauge("procedures", 12)
	r.SetGauge("db.pool.total_conns", 3)

	var b strings.Builder
	if err := r.WritePrometheus(&b); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := b.String()

	wants := []string{
		"# TYPE axreg_sync_documents_total counter",
		`axreg_sync_documents_total{job="axreg-sync",outcome="inserted"} 1`,
		`axreg_sync_failures_total{job="axreg-sync",reason="download-failure"} 1`,
		"# TYPE axreg_sync_stage_duration_seconds histogram",
		`axreg_sync_stage_duration_seconds_bucket{job="axreg-sync",stage="patient",le="0.05"} 1`,
		`axreg_sync_stage_duration_seconds_count{job="axreg-sync",stage="patient"} 1`,
		`axreg_sync_document_size_bytes_bucket{job="axreg-sync",le="10000"} 1`,
		`axreg_sync_document_size_bytes_bucket{job="axreg-sync",le="+Inf"} 1`,
		`axreg_sync_procedures{job="axreg-sync"} 12`,
		`axreg_sync_db_pool_total_conns{job="axreg-sync"} 3`,
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\n%s", want, out)
		}
	}
}

func TestWritePrometheus_Sorted(t *testing.T) {
	r := NewRecorder("")
	r.IncFailure("storage-failure")
	r.IncFailure("download-failure")

	var b strings.Builder
	if err := r.WritePrometheus(&b); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	if strings.Index(out, "download-failure") > strings.Index(out, "storage-failure") {
		t.Error("expected series sorted by label")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "axreg.prom")
	r := NewRecorder("")
	r.IncDocument("inserted")

	if err := r.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `outcome="inserted"} 1`) {
		t.Errorf("unexpected file content:\n%s", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected temp file to be renamed away, found %d entries", len(entries))
	}
}

func TestPromName(t *testing.T) {
	tests := map[string]string{
		"procedures":          "procedures",
		"db.pool.total_conns": "db_pool_total_conns",
		"last-run":            "last_run",
	}
	for in, want := range tests {
		if got := promName(in); got != want {
			t.Errorf("promName(%q) = %q, want %q", in, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestRecorder_ConcurrentSafe(t *testing.T) {
	r := NewRecorder("")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncDocument("inserted")
			r.IncFailure("no-local-match")
			r.ObserveStage("store", time.Millisecond)
			r.ObservePayload(100)
			r.SetGauge("procedures", 1)
		}()
	}
	wg.Wait()

	if r.Documents("inserted") != 50 {
		t.Errorf("expected 50 inserted, got %d", r.Documents("inserted"))
	}
	if r.StageCount("store") != 50 {
		t.Errorf("expected 50 store observations, got %d", r.StageCount("store"))
	}
}
