// Package errlog appends rejected documents to daily JSONL and CSV files for
// manual follow-up.
package errlog

import (
	"strconv"
	"time"
)

// Entry is one rejected or failed item.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id"`
	Reason      string    `json:"reason"`
	PatientID   *int64    `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	NationalID  string    `json:"national_id"`
	DocumentID  *int64    `json:"document_id"`
	ProcedureID *int64    `json:"procedure_id"`
	Detail      string    `json:"detail"`
}

var csvHeader = []string{
	"timestamp", "run_id", "reason", "patient_id", "patient_name",
	"national_id", "document_id", "procedure_id", "detail",
}

func (e Entry) record() []string {
	return []string{
		e.Timestamp.Format(time.RFC3339),
		e.RunID,
		e.Reason,
		optInt(e.PatientID),
		e.PatientName,
		e.NationalID,
		optInt(e.DocumentID),
		optInt(e.ProcedureID),
		e.Detail,
	}
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// ID returns a pointer to v for the optional identifier fields.
func ID(v int64) *int64 {
	return &v
}
