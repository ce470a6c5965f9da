// Package document reads filings from disk or memory and splits them into
// ordered raw sections ready for classification.
package document

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/classify"
	"github.com/dshills/filingcheck/internal/schema"
)

// Sentinel causes wrapped by ParseError.
var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrEmpty       = errors.New("document contains no text")
	ErrCorrupt     = errors.New("document is corrupt")
)

// ParseError reports an unreadable or unusable input file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %s", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Supported reports whether the file extension can be parsed.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".docx":
		return true
	}
	return false
}

// LoadFile reads and parses a document from disk.
func LoadFile(cat *catalog.Catalog, path string) (*schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return Parse(cat, path, data)
}

// Parse extracts text from data, splits it into sections and detects the
// document type. The filename selects the format and feeds type detection.
func Parse(cat *catalog.Catalog, filename string, data []byte) (*schema.Document, error) {
	var text string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		if !utf8.Valid(data) {
			return nil, &ParseError{Path: filename, Err: fmt.Errorf("%w: not valid UTF-8 text", ErrCorrupt)}
		}
		text = string(data)
	case ".docx":
		var err error
		if text, err = extractDocx(data); err != nil {
			return nil, &ParseError{Path: filename, Err: err}
		}
	default:
		return nil, &ParseError{Path: filename, Err: fmt.Errorf("%w %q", ErrUnsupported, filepath.Ext(filename))}
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Path: filename, Err: ErrEmpty}
	}

	sections, err := Split(text)
	if err != nil {
		return nil, &ParseError{Path: filename, Err: err}
	}
	docType, confidence := classify.DetectType(cat, filename, text)

	return &schema.Document{
		ID:             uuid.NewString(),
		Filename:       filepath.Base(filename),
		Type:           docType,
		TypeConfidence: confidence,
		Raw:            text,
		Hash:           fmt.Sprintf("sha256:%x", sha256.Sum256(data)),
		WordCount:      len(strings.Fields(text)),
		Sections:       sections,
	}, nil
}
