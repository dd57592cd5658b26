// Package axreg is the client for the AXReg clinical-records API: procedure
// listing, patient lookup with embedded document descriptors and document
// download.
package axreg

// Procedure is a clinical event returned by the procedure listing.
type Procedure struct {
	ID        int64     `json:"id"`
	PatientID *int64    `json:"patient_id"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// Patient is the AXReg patient with its attached document descriptors.
type Patient struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	CPF       *string    `json:"cpf"`
	Documents []Document `json:"documents"`
}

// NationalID returns the raw CPF, or "" when AXReg sent none.
func (p *Patient) NationalID() string {
	if p == nil || p.CPF == nil {
		return ""
	}
	return *p.CPF
}

// Document describes one file attached to a patient.
type Document struct {
	ID          int64     `json:"id"`
	ProcedureID *int64    `json:"procedure_id"`
	Type        string    `json:"type"`
	CreatedAt   Timestamp `json:"created_at"`
}

// BelongsTo reports whether the document references the given procedure.
func (d Document) BelongsTo(procedureID int64) bool {
	return d.ProcedureID != nil && *d.ProcedureID == procedureID
}

type procedurePage struct {
	Data []Procedure `json:"data"`
}
