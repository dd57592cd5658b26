// Package ingest drives one sync run: it lists recently updated AXReg
// procedures, selects each patient's eligible transfer documents and stores
// them in the PEP database exactly once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/axreg"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/errlog"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/pep"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/blobstore"
	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/telemetry"
	"github.com/baumgratzcodedev/integracao-axreg-pep/pkg/pagination"
)

// Source is the AXReg API.
type Source interface {
	ListProcedures(ctx context.Context, updatedAfter time.Time, page, limit int) ([]axreg.Procedure, error)
	GetPatient(ctx context.Context, id int64) (*axreg.Patient, error)
	GetDocumentBytes(ctx context.Context, id int64) ([]byte, error)
}

// Directory resolves a digits-only CPF to a local owner; nil, nil means no
// match.
type Directory interface {
	Resolve(ctx context.Context, cpf string) (*pep.Owner, error)
}

// Store persists documents and their import markers.
type Store interface {
	IsImported(ctx context.Context, documentID int64) (bool, error)
	StoreDocument(ctx context.Context, doc pep.NewDocument) (*pep.StoredDocument, error)
	MarkImported(ctx context.Context, documentID, storageID int64) error
}

// Reporter receives every rejected item.
type Reporter interface {
	Write(e errlog.Entry) error
}

// Inspector accepts or rejects downloaded payloads.
type Inspector interface {
	Inspect(content []byte) (*blobstore.Inspection, error)
}

// Config tunes a run.
type Config struct {
	Window         time.Duration
	TransferType   string
	PageSize       int
	MaxConcurrency int
	DryRun         bool
	RunID          string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithInspector(i Inspector) Option {
	return func(p *Pipeline) { p.inspector = i }
}

func WithMetrics(r *telemetry.Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides the reference instant of the run.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline wires the collaborators of a sync run.
type Pipeline struct {
	source    Source
	directory Directory
	store     Store
	reporter  Reporter
	inspector Inspector
	metrics   *telemetry.Recorder
	logger    zerolog.Logger
	now       func() time.Time
	cfg       Config
}

func New(source Source, directory Directory, store Store, reporter Reporter, cfg Config, opts ...Option) *Pipeline {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.TransferType == "" {
		cfg.TransferType = "TRANS"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = pagination.DefaultLimit
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	p := &Pipeline{
		source:    source,
		directory: directory,
		store:     store,
		reporter:  reporter,
		inspector: blobstore.NewInspector(0, nil),
		logger:    zerolog.Nop(),
		now:       time.Now,
		cfg:       cfg,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = telemetry.NewRecorder("")
	}
	return p
}

// run holds the state shared by the procedure tasks of one Run.
type run struct {
	now     time.Time
	summary *Summary
	// claims holds document IDs already taken by a task in this run.
	claims   sync.Map
	patients patientCache
}

type patientEntry struct {
	once    sync.Once
	patient *axreg.Patient
	err     error
}

type patientCache struct {
	mu      sync.Mutex
	entries map[int64]*patientEntry
}

func (c *patientCache) get(id int64, fetch func() (*axreg.Patient, error)) (*axreg.Patient, error) {
	c.mu.Lock()
	if c.entries == nil {
		c.entries = make(map[int64]*patientEntry)
	}
	e, ok := c.entries[id]
	if !ok {
		e = &patientEntry{}
		c.entries[id] = e
	}
	c.mu.Unlock()

	e.once.Do(func() { e.patient, e.err = fetch() })
	return e.patient, e.err
}

// Run processes every procedure updated inside the window. Per-item
// failures are reported and counted, never returned; the error is non-nil
// only when ctx ends the run early.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	r := &run{
		now: p.now(),
		summary: &Summary{
			RunID:  p.cfg.RunID,
			DryRun: p.cfg.DryRun,
		},
	}
	r.summary.StartedAt = r.now
	log := p.logger.With().Str("run_id", p.cfg.RunID).Logger()

	updatedAfter := r.now.Add(-p.cfg.Window)
	log.Info().
		Time("updated_after", updatedAfter).
		Bool("dry_run", p.cfg.DryRun).
		Int("max_concurrency", p.cfg.MaxConcurrency).
		Msg("sync run started")

	procedures := p.listProcedures(ctx, r, updatedAfter)
	r.summary.Procedures.Store(int64(len(procedures)))
	p.metrics.SetGauge("procedures", float64(len(procedures)))

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrency)
	for _, proc := range procedures {
		if ctx.Err() != nil {
			break
		}
		proc := proc
		g.Go(func() error {
			p.processProcedure(ctx, r, proc)
			return nil
		})
	}
	_ = g.Wait()

	r.summary.FinishedAt = p.now()
	p.metrics.SetGauge("last_run_timestamp_seconds", float64(r.summary.FinishedAt.Unix()))
	log.Info().EmbedObject(r.summary).Msg("sync run finished")

	return r.summary, ctx.Err()
}

// listProcedures pages through the listing until an empty or short page. A
// failing page ends the listing; what was gathered so far is still
// processed.
func (p *Pipeline) listProcedures(ctx context.Context, r *run, updatedAfter time.Time) []axreg.Procedure {
	var all []axreg.Procedure
	page := pagination.New(1, p.cfg.PageSize)
	for ctx.Err() == nil {
		start := time.Now()
		batch, err := p.source.ListProcedures(ctx, updatedAfter, page.Page, page.Limit)
		p.metrics.ObserveStage("list_procedures", time.Since(start))
		if err != nil {
			p.report(r, errlog.Entry{
				Reason: ReasonListingFailure,
				Detail: fmt.Sprintf("page %d: %v", page.Page, err),
			})
			break
		}
		all = append(all, batch...)
		if page.IsLast(len(batch)) {
			break
		}
		page = page.Next()
	}
	return all
}

func (p *Pipeline) processProcedure(ctx context.Context, r *run, proc axreg.Procedure) {
	defer func() {
		if rec := recover(); rec != nil {
			p.fail(r, errlog.Entry{
				Reason:      ReasonProcedureFailure,
				PatientID:   proc.PatientID,
				ProcedureID: errlog.ID(proc.ID),
				Detail:      fmt.Sprintf("panic: %v", rec),
			})
		}
	}()

	if proc.PatientID == nil {
		p.fail(r, errlog.Entry{
			Reason:      ReasonMissingPatientReference,
			ProcedureID: errlog.ID(proc.ID),
			Detail:      "procedure has no patient reference",
		})
		return
	}

	patientID := *proc.PatientID
	patient, err := r.patients.get(patientID, func() (*axreg.Patient, error) {
		start := time.Now()
		defer func() { p.metrics.ObserveStage("patient", time.Since(start)) }()
		return p.source.GetPatient(ctx, patientID)
	})
	if err != nil || patient == nil {
		detail := "patient not found"
		if err != nil {
			detail = err.Error()
		}
		p.fail(r, errlog.Entry{
			Reason:      ReasonPatientFetchFailure,
			PatientID:   errlog.ID(patientID),
			ProcedureID: errlog.ID(proc.ID),
			Detail:      detail,
		})
		return
	}

	res := FilterEligible(patient.Documents, proc.ID, r.now, p.cfg.Window, p.cfg.TransferType)
	if res.Filtered > 0 {
		r.summary.Filtered.Add(int64(res.Filtered))
		for i := 0; i < res.Filtered; i++ {
			p.metrics.IncDocument(OutcomeFiltered)
		}
	}
	for _, d := range res.MissingTimestamp {
		detail := "document has no creation timestamp"
		if d.CreatedAt.Raw != "" {
			detail = fmt.Sprintf("unparsable creation timestamp %q", d.CreatedAt.Raw)
		}
		p.fail(r, p.entry(ReasonMissingTimestamp, proc, patient, d, detail))
	}

	for _, d := range res.Eligible {
		if ctx.Err() != nil {
			return
		}
		p.processDocument(ctx, r, proc, patient, d)
	}
}

// processDocument takes one eligible document through
// probe, resolve, download, store and mark.
func (p *Pipeline) processDocument(ctx context.Context, r *run, proc axreg.Procedure, patient *axreg.Patient, doc axreg.Document) {
	log := p.logger.With().
		Str("run_id", p.cfg.RunID).
		Int64("procedure_id", proc.ID).
		Int64("document_id", doc.ID).
		Logger()

	imported, err := p.store.IsImported(ctx, doc.ID)
	if err != nil {
		p.fail(r, p.entry(ReasonDedupProbeFailure, proc, patient, doc, err.Error()))
		return
	}
	if imported {
		p.skipDuplicate(r, log, "import marker present")
		return
	}
	if _, taken := r.claims.LoadOrStore(doc.ID, struct{}{}); taken {
		p.skipDuplicate(r, log, "already handled in this run")
		return
	}

	cpf := NormalizeCPF(patient.NationalID())
	if cpf == "" {
		p.fail(r, p.entry(ReasonMissingIdentifier, proc, patient, doc, "patient has no usable CPF"))
		return
	}

	owner, err := p.directory.Resolve(ctx, cpf)
	switch {
	case err != nil:
		p.fail(r, p.entry(ReasonResolverFailure, proc, patient, doc, err.Error()))
		return
	case owner == nil:
		p.fail(r, p.entry(ReasonNoLocalMatch, proc, patient, doc, "no local patient/encounter for CPF"))
		return
	case owner.Blank():
		p.fail(r, p.entry(ReasonEmptyResolvedKeys, proc, patient, doc,
			fmt.Sprintf("patient_key=%q encounter_key=%q", owner.PatientKey, owner.EncounterKey)))
		return
	}

	start := time.Now()
	content, err := p.source.GetDocumentBytes(ctx, doc.ID)
	p.metrics.ObserveStage("download", time.Since(start))
	if err != nil {
		p.fail(r, p.entry(ReasonDownloadFailure, proc, patient, doc, err.Error()))
		return
	}
	inspection, err := p.inspector.Inspect(content)
	if err != nil {
		reason := ReasonInvalidDocument
		if errors.Is(err, blobstore.ErrEmptyContent) {
			reason = ReasonDownloadFailure
		}
		p.fail(r, p.entry(reason, proc, patient, doc, err.Error()))
		return
	}
	p.metrics.ObservePayload(inspection.Size)

	if p.cfg.DryRun {
		r.summary.WouldInsert.Add(1)
		p.metrics.IncDocument(OutcomeWouldInsert)
		log.Info().
			Str("patient_key", owner.PatientKey).
			Str("encounter_key", owner.EncounterKey).
			Int64("size", inspection.Size).
			Msg("dry run: document would be stored")
		return
	}

	start = time.Now()
	stored, err := p.store.StoreDocument(ctx, pep.NewDocument{
		PatientKey:       owner.PatientKey,
		EncounterKey:     owner.EncounterKey,
		Content:          content,
		SourceDocumentID: doc.ID,
	})
	p.metrics.ObserveStage("store", time.Since(start))
	if err != nil {
		p.fail(r, p.entry(ReasonStorageFailure, proc, patient, doc, err.Error()))
		return
	}

	// The blob is committed. The marker is written separately; if this
	// process dies before it lands, the next run stores the document again.
	start = time.Now()
	markErr := p.store.MarkImported(ctx, doc.ID, stored.ID)
	p.metrics.ObserveStage("mark", time.Since(start))

	r.summary.Inserted.Add(1)
	p.metrics.IncDocument(OutcomeInserted)

	if markErr != nil {
		r.summary.StoredUnmarked.Add(1)
		p.metrics.IncDocument(OutcomeStoredUnmarked)
		p.report(r, p.entry(ReasonDedupMarkerFailure, proc, patient, doc,
			fmt.Sprintf("stored as %s but marker failed: %v", stored.FileName, markErr)))
		return
	}

	log.Info().
		Int64("storage_id", stored.ID).
		Str("file_name", stored.FileName).
		Int64("counter_before", stored.Reservation.CounterBefore).
		Int64("max_before", stored.Reservation.MaxBefore).
		Int64("size", inspection.Size).
		Str("sha256", inspection.SHA256).
		Msg("document stored")
}

func (p *Pipeline) skipDuplicate(r *run, log zerolog.Logger, why string) {
	r.summary.SkippedDuplicate.Add(1)
	p.metrics.IncDocument(OutcomeSkippedDuplicate)
	log.Debug().Str("why", why).Msg("document skipped as duplicate")
}

func (p *Pipeline) entry(reason string, proc axreg.Procedure, patient *axreg.Patient, doc axreg.Document, detail string) errlog.Entry {
	return errlog.Entry{
		Reason:      reason,
		PatientID:   errlog.ID(patient.ID),
		PatientName: patient.Name,
		NationalID:  patient.NationalID(),
		DocumentID:  errlog.ID(doc.ID),
		ProcedureID: errlog.ID(proc.ID),
		Detail:      detail,
	}
}

// fail counts an item as failed and reports it.
func (p *Pipeline) fail(r *run, e errlog.Entry) {
	r.summary.Failed.Add(1)
	p.metrics.IncDocument(OutcomeFailed)
	p.report(r, e)
}

// report hands an entry to the reporter. A reporter error is logged and
// otherwise ignored.
func (p *Pipeline) report(r *run, e errlog.Entry) {
	p.metrics.IncFailure(e.Reason)
	if e.RunID == "" {
		e.RunID = p.cfg.RunID
	}

	ev := p.logger.Warn().
		Str("run_id", e.RunID).
		Str("reason", e.Reason).
		Str("detail", e.Detail)
	if e.ProcedureID != nil {
		ev = ev.Int64("procedure_id", *e.ProcedureID)
	}
	if e.DocumentID != nil {
		ev = ev.Int64("document_id", *e.DocumentID)
	}
	ev.Msg("item rejected")

	if p.reporter == nil {
		return
	}
	if err := p.reporter.Write(e); err != nil {
		p.logger.Error().Err(err).Str("reason", e.Reason).Msg("error log write failed")
	}
}
