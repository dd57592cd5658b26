package errlog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const filePrefix = "axreg_errors_"

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger used to announce the fallback.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// WithRunID stamps entries that carry no run id.
func WithRunID(id string) Option {
	return func(s *Sink) { s.runID = id }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// Sink appends entries to axreg_errors_YYYYMMDD.jsonl and .csv. Each file
// goes to the primary directory when possible and to the fallback directory
// otherwise.
type Sink struct {
	mu       sync.Mutex
	primary  string
	fallback string
	state    *FallbackState
	logger   zerolog.Logger
	runID    string
	now      func() time.Time
	written  atomic.Int64
}

func NewSink(primary, fallback string, state *FallbackState, opts ...Option) *Sink {
	if state == nil {
		state = NewFallbackState()
	}
	s := &Sink{
		primary:  primary,
		fallback: fallback,
		state:    state,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Write appends e to both files. It only fails when neither directory could
// take a file.
func (s *Sink) Write(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if e.RunID == "" {
		e.RunID = s.runID
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode error entry: %w", err)
	}
	line = append(line, '\n')

	var row bytes.Buffer
	w := csv.NewWriter(&row)
	if err := w.Write(e.record()); err != nil {
		return fmt.Errorf("encode error entry: %w", err)
	}
	w.Flush()

	day := e.Timestamp.Format("20060102")

	s.mu.Lock()
	defer s.mu.Unlock()

	jsonErr := s.appendWithFallback(filePrefix+day+".jsonl", line, nil)
	csvErr := s.appendWithFallback(filePrefix+day+".csv", row.Bytes(), csvHeader)
	if err := errors.Join(jsonErr, csvErr); err != nil {
		return err
	}
	s.written.Add(1)
	return nil
}

// Written returns how many entries were fully written.
func (s *Sink) Written() int64 {
	return s.written.Load()
}

func (s *Sink) appendWithFallback(name string, data []byte, header []string) error {
	primaryErr := appendFile(s.primary, name, data, header)
	if primaryErr == nil {
		return nil
	}

	if s.state.MarkWarned() {
		s.logger.Warn().
			Err(primaryErr).
			Str("primary_dir", s.primary).
			Str("fallback_dir", s.fallback).
			Msg("error log directory unavailable, writing to fallback")
	}

	if err := appendFile(s.fallback, name, data, header); err != nil {
		return fmt.Errorf("write %s: primary: %v; fallback: %w", name, primaryErr, err)
	}
	return nil
}

// appendFile appends data to dir/name, writing header first when the file
// is new or empty.
func appendFile(dir, name string, data []byte, header []string) error {
	if dir == "" {
		return fmt.Errorf("no directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	if header != nil {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() == 0 {
			w := csv.NewWriter(f)
			if err := w.Write(header); err != nil {
				f.Close()
				return fmt.Errorf("write header %s: %w", path, err)
			}
			w.Flush()
			if err := w.Error(); err != nil {
				f.Close()
				return fmt.Errorf("write header %s: %w", path, err)
			}
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}
