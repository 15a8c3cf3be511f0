package ingestor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"litgraph/internal/models"
	"litgraph/internal/util"
)

var headingRe = regexp.MustCompile(`(?i)^(?:\d{1,2}[.)]?\s+)?(abstract|introduction|background|related work|methods?|methodology|approach|experiments?|evaluation|results|discussion|conclusions?|acknowledge?ments?|references|bibliography|works cited|appendix)\s*$`)

// FromPDF pulls the plain text out of a PDF and decomposes it with the
// heading scan. The paper id is the sha256 of the file bytes, so re-uploading
// the same file is idempotent.
func FromPDF(path string) (models.Paper, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Paper{}, fmt.Errorf("read pdf: %w", err)
	}
	text, err := extractPlainText(path)
	if err != nil {
		return models.Paper{}, err
	}
	doc := DecomposeText(text)
	doc.Source = filepath.Base(path)
	return fromDocument(doc, raw)
}

func extractPlainText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	text := util.SanitizeText(buf.String())
	if text == "" {
		return "", ErrNoExtractableText
	}
	return text, nil
}

// DecomposeText splits plain paper text on recognized section headings. The
// first non-empty line is taken as the title and the second as the author
// line; text under an abstract heading becomes the abstract, text under a
// references heading becomes the raw reference lines. When no heading is
// found the remainder lands in a single Body section so nothing is lost.
func DecomposeText(text string) Document {
	var doc Document

	lines := make([]string, 0, 256)
	s := bufio.NewScanner(strings.NewReader(text))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		lines = append(lines, strings.TrimSpace(s.Text()))
	}

	label := ""
	sawHeading := false
	buf := make([]string, 0, 64)
	flush := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if body == "" {
			return
		}
		switch strings.ToLower(label) {
		case "":
			// Front matter between the author line and the first heading is
			// affiliations and emails; only keep it when the document has no
			// headings at all.
			if !sawHeading {
				doc.Sections = append(doc.Sections, models.Section{Label: "Body", Text: body})
			}
		case "abstract":
			doc.Abstract = body
		case "references", "bibliography", "works cited":
			for _, ln := range strings.Split(body, "\n") {
				if ln = strings.TrimSpace(ln); ln != "" {
					doc.ReferencesRaw = append(doc.ReferencesRaw, ln)
				}
			}
		default:
			doc.Sections = append(doc.Sections, models.Section{Label: label, Text: body})
		}
	}

	for _, line := range lines {
		if line == "" {
			if len(buf) > 0 {
				buf = append(buf, "")
			}
			continue
		}
		if name, ok := headingName(line); ok {
			sawHeading = true
			flush()
			label = name
			continue
		}
		if doc.Title == "" {
			doc.Title = line
			continue
		}
		if len(doc.Authors) == 0 && label == "" {
			doc.Authors = splitAuthors(line)
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return doc
}

// headingName keeps the document's own casing for the label; callers that
// need a canonical form lowercase it themselves.
func headingName(line string) (string, bool) {
	if len(line) > 64 {
		return "", false
	}
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func splitAuthors(line string) []string {
	line = strings.ReplaceAll(line, " and ", ",")
	line = strings.ReplaceAll(line, "&", ",")
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
