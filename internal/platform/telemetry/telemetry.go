// Package telemetry records run metrics for the sync job (document outcomes,
// failure reasons, per-stage latency and payload sizes) and renders them in
// Prometheus text exposition format, typically into a node-exporter textfile.
package telemetry

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64 // one per boundary, non-cumulative
	count        int64
	sum          uint64     // stored as math.Float64bits for atomic add
	mu           sync.Mutex // protects bucketCounts
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Above every boundary: counted in +Inf at export.
	h.mu.Unlock()
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

// cumulativeBuckets returns cumulative bucket counts for Prometheus export.
func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

// atomicAddFloat64 performs an atomic add on a uint64 that stores a float64
// using CAS.
func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Labeled histogram, keyed by a single label value
// ---------------------------------------------------------------------------

type labeledHistogramStore struct {
	mu    sync.RWMutex
	items map[string]*histogram
}

func newLabeledHistogramStore() *labeledHistogramStore {
	return &labeledHistogramStore{items: make(map[string]*histogram)}
}

func (s *labeledHistogramStore) getOrCreate(key string, boundaries []float64) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	h, ok = s.items[key]
	if !ok {
		h = newHistogram(boundaries)
		s.items[key] = h
	}
	s.mu.Unlock()
	return h
}

func (s *labeledHistogramStore) get(key string) *histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key]
}

func (s *labeledHistogramStore) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

// ---------------------------------------------------------------------------
// Counter store, keyed by (metricName, label)
// ---------------------------------------------------------------------------

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) add(key string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := delta
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

func counterKey(name, label string) string {
	return name + "|" + label
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

// defaultDurationBuckets are the bucket boundaries (in seconds) for stage
// latency: AXReg calls and database transactions.
var defaultDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0,
}

// defaultSizeBuckets are the bucket boundaries (in bytes) for document
// payloads.
var defaultSizeBuckets = []float64{
	10_000, 100_000, 1_000_000, 5_000_000, 10_000_000, 50_000_000,
}

const (
	metricDocuments = "documents"
	metricFailures  = "failures"
)

// Recorder collects the metrics of one sync run. It is safe for concurrent
// use.
type Recorder struct {
	job string

	counters *counterStore
	stages   *labeledHistogramStore
	sizes    *histogram

	gaugeMu sync.Mutex
	gauges  map[string]float64
}

// NewRecorder creates a Recorder whose samples carry the job label.
func NewRecorder(job string) *Recorder {
	if job == "" {
		job = "axreg-sync"
	}
	return &Recorder{
		job:      job,
		counters: newCounterStore(),
		stages:   newLabeledHistogramStore(),
		sizes:    newHistogram(defaultSizeBuckets),
		gauges:   make(map[string]float64),
	}
}

// IncDocument counts a document outcome (inserted, skipped_duplicate, ...).
func (r *Recorder) IncDocument(outcome string) {
	r.counters.add(counterKey(metricDocuments, outcome), 1)
}

// IncFailure counts a failure by reason code.
func (r *Recorder) IncFailure(reason string) {
	r.counters.add(counterKey(metricFailures, reason), 1)
}

// ObserveStage records how long a pipeline stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stages.getOrCreate(stage, defaultDurationBuckets).Observe(d.Seconds())
}

// ObservePayload records a downloaded document size.
func (r *Recorder) ObservePayload(size int64) {
	r.sizes.Observe(float64(size))
}

// SetGauge sets a free-form gauge, exported as axreg_sync_<name>.
func (r *Recorder) SetGauge(name string, v float64) {
	r.gaugeMu.Lock()
	r.gauges[name] = v
	r.gaugeMu.Unlock()
}

// Documents returns the count for a document outcome.
func (r *Recorder) Documents(outcome string) int64 {
	return r.counters.get(counterKey(metricDocuments, outcome))
}

// Failures returns the count for a failure reason.
func (r *Recorder) Failures(reason string) int64 {
	return r.counters.get(counterKey(metricFailures, reason))
}

// StageCount returns how many observations a stage has.
func (r *Recorder) StageCount(stage string) int64 {
	h := r.stages.get(stage)
	if h == nil {
		return 0
	}
	return h.Count()
}

// Gauge returns the current gauge value.
func (r *Recorder) Gauge(name string) float64 {
	r.gaugeMu.Lock()
	defer r.gaugeMu.Unlock()
	return r.gauges[name]
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// WritePrometheus writes every metric in Prometheus text format. Series are
// sorted so consecutive dumps diff cleanly.
func (r *Recorder) WritePrometheus(w io.Writer) error {
	var b strings.Builder
	job := fmt.Sprintf("job=%q", r.job)

	counters := r.counters.snapshot()
	writeCounterFamily(&b, counters, metricDocuments, "axreg_sync_documents_total",
		"Documents processed by outcome.", "outcome", job)
	writeCounterFamily(&b, counters, metricFailures, "axreg_sync_failures_total",
		"Failures by reason code.", "reason", job)

	b.WriteString("# HELP axreg_sync_stage_duration_seconds Duration of pipeline stages in seconds.\n")
	b.WriteString("# TYPE axreg_sync_stage_duration_seconds histogram\n")
	stages := r.stages.snapshot()
	for _, stage := range sortedKeys(stages) {
		labels := fmt.Sprintf("%s,stage=%q", job, stage)
		writeSingleHistogram(&b, "axreg_sync_stage_duration_seconds", labels, stages[stage], defaultDurationBuckets)
	}
	b.WriteByte('\n')

	b.WriteString("# HELP axreg_sync_document_size_bytes Size of downloaded documents in bytes.\n")
	b.WriteString("# TYPE axreg_sync_document_size_bytes histogram\n")
	writeSingleHistogram(&b, "axreg_sync_document_size_bytes", job, r.sizes, defaultSizeBuckets)
	b.WriteByte('\n')

	r.gaugeMu.Lock()
	gauges := make(map[string]float64, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}
	r.gaugeMu.Unlock()
	for _, name := range sortedKeys(gauges) {
		prom := "axreg_sync_" + promName(name)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", prom)
		fmt.Fprintf(&b, "%s{%s} %g\n", prom, job, gauges[name])
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteFile writes the exposition to path through a temporary file and a
// rename, so scrapers never read a partial dump.
func (r *Recorder) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".axreg-metrics-*")
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close metrics file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename metrics file: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeCounterFamily(b *strings.Builder, counters map[string]int64, metric, name, help, labelName, job string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	for _, key := range sortedKeys(counters) {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) != 2 || parts[0] != metric {
			continue
		}
		fmt.Fprintf(b, "%s{%s,%s=%q} %d\n", name, job, labelName, parts[1], counters[key])
	}
	b.WriteByte('\n')
}

func writeSingleHistogram(b *strings.Builder, name, labels string,
	h *histogram, boundaries []float64) {

	cum := h.cumulativeBuckets()
	total := h.Count()

	labelsPrefix := ""
	labelsSuffix := ""
	if labels != "" {
		labelsPrefix = labels + ","
		labelsSuffix = "{" + labels + "}"
	}

	for i, boundary := range boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, labelsPrefix, boundary, cum[i])
	}

	// +Inf bucket.
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, labelsPrefix, total)

	fmt.Fprintf(b, "%s_sum%s %g\n", name, labelsSuffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, labelsSuffix, total)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// promName maps a dotted or dashed name onto the Prometheus charset.
func promName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
