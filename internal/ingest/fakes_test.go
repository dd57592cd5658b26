package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/axreg"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/errlog"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/pep"
)

var pdfBytes = []byte("%PDF-1.4\n% test document\n%%EOF\n")

// --- source ---

type fakeSource struct {
	mu sync.Mutex

	pages      [][]axreg.Procedure
	listErrAt  int
	patients   map[int64]*axreg.Patient
	patientErr map[int64]error
	panicOn    map[int64]bool
	files      map[int64][]byte
	fileErr    map[int64]error
	delay      time.Duration

	listCalls    []int
	patientCalls map[int64]int
	inFlight     atomic.Int64
	maxInFlight  atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		patients:     make(map[int64]*axreg.Patient),
		patientErr:   make(map[int64]error),
		panicOn:      make(map[int64]bool),
		files:        make(map[int64][]byte),
		fileErr:      make(map[int64]error),
		patientCalls: make(map[int64]int),
	}
}

func (f *fakeSource) ListProcedures(_ context.Context, _ time.Time, page, _ int) ([]axreg.Procedure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, page)
	if f.listErrAt == page {
		return nil, fmt.Errorf("listing unavailable")
	}
	if page-1 < len(f.pages) {
		return f.pages[page-1], nil
	}
	return nil, nil
}

func (f *fakeSource) GetPatient(_ context.Context, id int64) (*axreg.Patient, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.patientCalls[id]++
	p, err, boom := f.patients[id], f.patientErr[id], f.panicOn[id]
	f.mu.Unlock()

	if boom {
		panic("unexpected payload")
	}
	return p, err
}

func (f *fakeSource) GetDocumentBytes(_ context.Context, id int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fileErr[id]; err != nil {
		return nil, err
	}
	return f.files[id], nil
}

// --- directory ---

type fakeDirectory struct {
	owners map[string]*pep.Owner
	err    error
	calls  atomic.Int64
}

func (d *fakeDirectory) Resolve(_ context.Context, cpf string) (*pep.Owner, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.owners[cpf], nil
}

// --- store ---

type fakeStore struct {
	mu       sync.Mutex
	markers  map[int64]int64
	stored   []pep.NewDocument
	counter  int64
	probeErr error
	storeErr error
	markErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{markers: make(map[int64]int64)}
}

func (s *fakeStore) IsImported(_ context.Context, documentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probeErr != nil {
		return false, s.probeErr
	}
	_, ok := s.markers[documentID]
	return ok, nil
}

func (s *fakeStore) StoreDocument(_ context.Context, doc pep.NewDocument) (*pep.StoredDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return nil, s.storeErr
	}
	s.counter++
	s.stored = append(s.stored, doc)
	return &pep.StoredDocument{
		OrgUnit:     "1",
		ID:          s.counter,
		FileName:    pep.FileName(s.counter),
		CreatedAt:   time.Now(),
		Reservation: pep.Reservation{ID: s.counter, CounterBefore: s.counter - 1, CounterAfter: s.counter},
	}, nil
}

func (s *fakeStore) MarkImported(_ context.Context, documentID, storageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	if _, ok := s.markers[documentID]; !ok {
		s.markers[documentID] = storageID
	}
	return nil
}

func (s *fakeStore) storedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

// --- reporter ---

type fakeReporter struct {
	mu      sync.Mutex
	entries []errlog.Entry
	err     error
}

func (r *fakeReporter) Write(e errlog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

func (r *fakeReporter) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Reason)
	}
	return out
}
