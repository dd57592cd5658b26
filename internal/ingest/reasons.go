package ingest

// Reason codes written to the error log. They are stable strings used for
// downstream filtering.
const (
	ReasonMissingTimestamp        = "missing-timestamp"
	ReasonMissingIdentifier       = "missing-identifier"
	ReasonNoLocalMatch            = "no-local-match"
	ReasonEmptyResolvedKeys       = "empty-resolved-keys"
	ReasonResolverFailure         = "resolver-failure"
	ReasonDownloadFailure         = "download-failure"
	ReasonInvalidDocument         = "invalid-document"
	ReasonStorageFailure          = "storage-failure"
	ReasonProcedureFailure        = "procedure-failure"
	ReasonPatientFetchFailure     = "patient-fetch-failure"
	ReasonMissingPatientReference = "missing-patient-reference"
	ReasonDedupProbeFailure       = "dedup-probe-failure"
	ReasonDedupMarkerFailure      = "dedup-marker-failure"
	ReasonListingFailure          = "procedure-listing-failure"
)

// Document outcomes, used as metric labels and summary fields.
const (
	OutcomeInserted         = "inserted"
	OutcomeSkippedDuplicate = "skipped_duplicate"
	OutcomeFailed           = "failed"
	OutcomeFiltered         = "filtered"
	OutcomeStoredUnmarked   = "stored_unmarked"
	OutcomeWouldInsert      = "would_insert"
)
