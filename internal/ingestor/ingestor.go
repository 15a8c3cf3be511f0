// Package ingestor turns incoming paper documents into models.Paper records.
// It accepts the decomposed JSON shape the document pipeline emits, or a raw
// PDF whose plain text is pulled and split by a naive heading scan. No layout
// analysis happens here; this is glue in front of the engine.
package ingestor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"litgraph/internal/models"
	"litgraph/internal/util"
)

var (
	ErrMalformedPaper    = errors.New("malformed paper document")
	ErrNoExtractableText = errors.New("no extractable text found in PDF")
)

// Document is the decomposed-paper wire shape. ID is optional; when it looks
// like an arXiv identifier it becomes the paper id, otherwise the id is the
// sha256 of the source bytes.
type Document struct {
	ID            string           `json:"id,omitempty"`
	Title         string           `json:"title"`
	Authors       []string         `json:"authors,omitempty"`
	Abstract      string           `json:"abstract,omitempty"`
	PublishedAt   *time.Time       `json:"published_at,omitempty"`
	Sections      []models.Section `json:"sections"`
	ReferencesRaw []string         `json:"references_raw,omitempty"`
	Source        string           `json:"source,omitempty"`
}

var arxivRe = regexp.MustCompile(`^(?:arXiv:)?(\d{4}\.\d{4,5})(?:v\d+)?$`)

// NormalizeArxivID strips the scheme prefix and version suffix from an arXiv
// identifier. Returns ok=false when the string is not one.
func NormalizeArxivID(id string) (string, bool) {
	m := arxivRe.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseDocument validates and normalizes a decomposed paper. The source bytes
// are hashed for the fallback paper id, so the same upload always maps to the
// same paper.
func ParseDocument(data []byte) (models.Paper, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Paper{}, fmt.Errorf("%w: decode json: %v", ErrMalformedPaper, err)
	}
	return fromDocument(doc, data)
}

func fromDocument(doc Document, source []byte) (models.Paper, error) {
	p := models.Paper{
		Title:         util.SanitizeText(doc.Title),
		Abstract:      util.SanitizeText(doc.Abstract),
		PublishedAt:   doc.PublishedAt,
		Source:        strings.TrimSpace(doc.Source),
		ReferencesRaw: make([]string, 0, len(doc.ReferencesRaw)),
		Status:        models.PaperStatusPending,
	}
	for _, a := range doc.Authors {
		if a = util.SanitizeText(a); a != "" {
			p.Authors = append(p.Authors, a)
		}
	}
	for _, s := range doc.Sections {
		text := util.SanitizeText(s.Text)
		if text == "" {
			continue
		}
		p.Sections = append(p.Sections, models.Section{Label: util.SanitizeText(s.Label), Text: text})
	}
	for _, line := range doc.ReferencesRaw {
		if line = util.SanitizeText(line); line != "" {
			p.ReferencesRaw = append(p.ReferencesRaw, line)
		}
	}

	if p.Title == "" {
		return models.Paper{}, fmt.Errorf("%w: missing title", ErrMalformedPaper)
	}
	if len(p.Sections) == 0 && p.Abstract == "" {
		return models.Paper{}, fmt.Errorf("%w: no section text", ErrMalformedPaper)
	}

	if id, ok := NormalizeArxivID(doc.ID); ok {
		p.PaperID = id
	} else if id := strings.TrimSpace(doc.ID); id != "" {
		p.PaperID = id
	} else {
		p.PaperID = util.SHA256Hex(source)
	}
	return p, nil
}
