package pep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	vals []interface{}
	err  error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.vals))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.vals[i].(int64)
		case *bool:
			*p = r.vals[i].(bool)
		case *string:
			*p = r.vals[i].(string)
		case *time.Time:
			*p = r.vals[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

// fakeQuerier answers the statements issued by this package from in-memory
// state and records what it saw.
type fakeQuerier struct {
	counter  int64
	max      int64
	imported bool
	affected string
	failOn   string

	statements []string
	updatedTo  int64
	insertArgs []interface{}
}

func (f *fakeQuerier) fail(sql string) error {
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return errors.New("simulated failure")
	}
	return nil
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)
	if err := f.fail(sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	switch {
	case strings.Contains(sql, "UPDATE document_sequence"):
		f.updatedTo = args[1].(int64)
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.Contains(sql, "INSERT INTO axreg_document_import"):
		if f.affected != "" {
			return pgconn.NewCommandTag(f.affected), nil
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (f *fakeQuerier) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	f.statements = append(f.statements, sql)
	if err := f.fail(sql); err != nil {
		return fakeRow{err: err}
	}
	switch {
	case strings.Contains(sql, "FOR UPDATE"):
		return fakeRow{vals: []interface{}{f.counter}}
	case strings.Contains(sql, "MAX(id)"):
		return fakeRow{vals: []interface{}{f.max}}
	case strings.Contains(sql, "INSERT INTO patient_document"):
		f.insertArgs = args
		return fakeRow{vals: []interface{}{time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}}
	case strings.Contains(sql, "axreg_document_import"):
		return fakeRow{vals: []interface{}{f.imported}}
	}
	return fakeRow{err: pgx.ErrNoRows}
}
