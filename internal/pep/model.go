// Package pep reads and writes the local PEP database: patient/encounter
// resolution by CPF, document identifier reservation, blob storage and the
// AXReg import markers.
package pep

import (
	"fmt"
	"strings"
	"time"
)

// Owner is the local patient/encounter pair a document is stored under.
type Owner struct {
	PatientKey   string
	EncounterKey string
}

// Blank reports whether either key is empty after trimming.
func (o *Owner) Blank() bool {
	return o == nil || strings.TrimSpace(o.PatientKey) == "" || strings.TrimSpace(o.EncounterKey) == ""
}

// Reservation is a reserved patient_document identifier plus the counter
// and storage values observed while reserving it.
type Reservation struct {
	ID            int64
	CounterBefore int64
	MaxBefore     int64
	CounterAfter  int64
}

// NewDocument is a blob about to be stored.
type NewDocument struct {
	PatientKey       string
	EncounterKey     string
	Content          []byte
	SourceDocumentID int64
}

// StoredDocument is a committed patient_document row.
type StoredDocument struct {
	OrgUnit     string
	ID          int64
	FileName    string
	CreatedAt   time.Time
	Reservation Reservation
}

// FileName is the file name stored for a reserved identifier.
func FileName(id int64) string {
	return fmt.Sprintf("axreg_%d.pdf", id)
}
