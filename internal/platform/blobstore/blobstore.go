// Package blobstore inspects document payloads before they are stored:
// size limits, content hashing and PDF structure validation.
package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrEmptyContent = errors.New("content is empty")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrNotPDF       = errors.New("content is not a PDF document")
)

// ---------------------------------------------------------------------------
// Validation constants
// ---------------------------------------------------------------------------

// MaxFileSize is the default size limit in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

const pdfMagic = "%PDF-"

// ---------------------------------------------------------------------------
// PDF validation
// ---------------------------------------------------------------------------

// Validator checks the structure of a document and returns its page count.
type Validator interface {
	Validate(content []byte) (int, error)
}

var disableConfigDir sync.Once

// PDFValidator parses documents with pdfcpu in relaxed mode.
type PDFValidator struct {
	conf *model.Configuration
}

func NewPDFValidator() *PDFValidator {
	// pdfcpu would otherwise create a config directory under the user's home
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFValidator{conf: conf}
}

func (v *PDFValidator) Validate(content []byte) (int, error) {
	pages, err := api.PageCount(bytes.NewReader(content), v.conf)
	if err != nil {
		return 0, err
	}
	return pages, nil
}

// ---------------------------------------------------------------------------
// Inspector
// ---------------------------------------------------------------------------

// Inspection describes an accepted payload.
type Inspection struct {
	Size        int64
	SHA256      string
	ContentType string
	Pages       int
}

// Inspector accepts or rejects payloads.
type Inspector struct {
	maxSize   int64
	validator Validator
}

// NewInspector creates an Inspector. maxSize <= 0 means MaxFileSize. A nil
// validator skips structural validation; the PDF header is still checked.
func NewInspector(maxSize int64, validator Validator) *Inspector {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	return &Inspector{maxSize: maxSize, validator: validator}
}

// Inspect returns ErrEmptyContent, ErrFileTooLarge or an error wrapping
// ErrNotPDF when the payload must not be stored.
func (i *Inspector) Inspect(content []byte) (*Inspection, error) {
	size := int64(len(content))
	if size == 0 {
		return nil, ErrEmptyContent
	}
	if size > i.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, size, i.maxSize)
	}

	contentType := http.DetectContentType(content)
	if !hasPDFHeader(content) {
		return nil, fmt.Errorf("%w: detected %s", ErrNotPDF, contentType)
	}

	out := &Inspection{
		Size:        size,
		ContentType: "application/pdf",
	}
	sum := sha256.Sum256(content)
	out.SHA256 = hex.EncodeToString(sum[:])

	if i.validator != nil {
		pages, err := i.validator.Validate(content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
		}
		out.Pages = pages
	}
	return out, nil
}

// hasPDFHeader looks for the %PDF- marker within the first kilobyte, where
// readers accept it.
func hasPDFHeader(content []byte) bool {
	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte(pdfMagic))
}
