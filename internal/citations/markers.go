package citations

import (
	"regexp"
	"strconv"
	"strings"
)

// Marker is one in-text citation occurrence. Num is set for bracketed numeric
// markers; Surname and Year for author-year forms.
type Marker struct {
	Text    string
	Num     int
	Surname string
	Year    int
}

const maxRangeSpan = 50

var (
	bracketRe    = regexp.MustCompile(`\[(\d{1,3}(?:\s*[-–,]\s*\d{1,3})*)\]`)
	parenRe      = regexp.MustCompile(`\(([^()]{2,120})\)`)
	authorYearRe = regexp.MustCompile(`^([A-Z][A-Za-z'’-]+)(?:\s+et\s+al\.?|\s+(?:and|&)\s+[A-Z][A-Za-z'’-]+)?,?\s*((?:19|20)\d{2})[a-z]?$`)
	narrativeRe  = regexp.MustCompile(`\b([A-Z][A-Za-z'’-]+)(?:\s+et\s+al\.?|\s+(?:and|&)\s+[A-Z][A-Za-z'’-]+)?\s+\(((?:19|20)\d{2})[a-z]?\)`)
)

// ScanMarkers finds bracketed numeric markers ("[3]", "[1,4]", "[2-5]"),
// author-year parentheticals ("(Vaswani et al., 2017)", multi-cites split on
// semicolons) and narrative cites ("Vaswani et al. (2017)"). Ranges expand to
// one Marker per target number.
func ScanMarkers(text string) []Marker {
	var out []Marker
	for _, m := range bracketRe.FindAllStringSubmatch(text, -1) {
		out = append(out, expandNumeric(m[0], m[1])...)
	}
	for _, m := range parenRe.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ";") {
			part = strings.TrimSpace(part)
			ay := authorYearRe.FindStringSubmatch(part)
			if ay == nil {
				continue
			}
			year, _ := strconv.Atoi(ay[2])
			out = append(out, Marker{Text: "(" + part + ")", Surname: ay[1], Year: year})
		}
	}
	for _, m := range narrativeRe.FindAllStringSubmatch(text, -1) {
		year, _ := strconv.Atoi(m[2])
		out = append(out, Marker{Text: m[0], Surname: m[1], Year: year})
	}
	return out
}

func expandNumeric(literal, inner string) []Marker {
	var out []Marker
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		lo, hi, ok := rangeBounds(part)
		if !ok {
			continue
		}
		for n := lo; n <= hi; n++ {
			out = append(out, Marker{Text: literal, Num: n})
		}
	}
	return out
}

func rangeBounds(part string) (int, int, bool) {
	fields := strings.FieldsFunc(part, func(r rune) bool { return r == '-' || r == '–' })
	switch len(fields) {
	case 1:
		n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		return n, n, true
	case 2:
		lo, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
		hi, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err1 != nil || err2 != nil || lo <= 0 || hi < lo || hi-lo > maxRangeSpan {
			return 0, 0, false
		}
		return lo, hi, true
	}
	return 0, 0, false
}
