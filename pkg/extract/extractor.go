// Package extract turns raw CV text into the structured session
// document. The plain-text extractor is heuristic: it locates contact
// details and section headings and slots the intervening lines into
// the canonical sections.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Extractor produces a structured document from raw CV text.
type Extractor interface {
	Extract(ctx context.Context, raw string) (map[string]interface{}, error)
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
)

// sectionHeadings maps heading aliases to canonical section names.
var sectionHeadings = map[string]string{
	"summary":             "summary",
	"profile":             "summary",
	"about":               "summary",
	"experience":          "experience",
	"work experience":     "experience",
	"employment":          "experience",
	"employment history":  "experience",
	"education":           "education",
	"academic background": "education",
	"skills":              "skills",
	"technical skills":    "skills",
	"projects":            "projects",
}

// PlainText is the reference extractor for unformatted CV text.
type PlainText struct {
	maxFieldBytes int
	logger        zerolog.Logger
}

// Config holds extractor settings.
type Config struct {
	MaxFieldBytes int
	Logger        zerolog.Logger
}

// NewPlainText creates a PlainText extractor.
func NewPlainText(cfg Config) *PlainText {
	if cfg.MaxFieldBytes <= 0 {
		cfg.MaxFieldBytes = 8192
	}
	return &PlainText{
		maxFieldBytes: cfg.MaxFieldBytes,
		logger:        cfg.Logger,
	}
}

// Extract parses raw text into the canonical document shape. Sections
// that cannot be located are omitted rather than emitted empty.
func (e *PlainText) Extract(ctx context.Context, raw string) (map[string]interface{}, error) {
	lines := strings.Split(raw, "\n")

	doc := map[string]interface{}{}
	contact := map[string]interface{}{}

	if email := emailRe.FindString(raw); email != "" {
		contact["email"] = email
	}
	if phone := phoneRe.FindString(raw); phone != "" {
		contact["phone"] = strings.TrimSpace(phone)
	}

	// The first non-empty line that is neither a heading nor a contact
	// detail is taken as the name.
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if _, isHeading := canonicalHeading(trimmed); isHeading {
			break
		}
		if emailRe.MatchString(trimmed) || phoneRe.MatchString(trimmed) {
			continue
		}
		contact["full_name"] = e.cap(trimmed)
		break
	}
	if len(contact) > 0 {
		doc["contact"] = contact
	}

	sections := splitSections(lines)

	if body, ok := sections["summary"]; ok {
		doc["summary"] = e.cap(strings.Join(body, " "))
	}
	if body, ok := sections["experience"]; ok {
		if entries := e.parseEntries(body); len(entries) > 0 {
			doc["experience"] = entries
		}
	}
	if body, ok := sections["education"]; ok {
		if entries := e.parseEntries(body); len(entries) > 0 {
			doc["education"] = entries
		}
	}
	if body, ok := sections["skills"]; ok {
		if skills := parseSkills(body); len(skills) > 0 {
			doc["skills"] = skills
		}
	}
	if body, ok := sections["projects"]; ok {
		if entries := e.parseEntries(body); len(entries) > 0 {
			doc["projects"] = entries
		}
	}

	e.logger.Debug().Int("sections", len(doc)).Msg("Document extracted")
	return doc, nil
}

// splitSections groups lines under the canonical heading they follow.
func splitSections(lines []string) map[string][]string {
	sections := map[string][]string{}
	current := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if name, ok := canonicalHeading(trimmed); ok {
			current = name
			continue
		}
		if current == "" || trimmed == "" {
			continue
		}
		sections[current] = append(sections[current], trimmed)
	}
	return sections
}

func canonicalHeading(line string) (string, bool) {
	cleaned := strings.ToLower(strings.TrimRight(strings.TrimSpace(line), ":"))
	name, ok := sectionHeadings[cleaned]
	return name, ok
}

// parseEntries groups consecutive lines into entries: the first line
// of each group is the title, a detected date range sets the period,
// the rest becomes the description.
func (e *PlainText) parseEntries(body []string) []interface{} {
	var entries []interface{}
	var current map[string]interface{}

	flush := func() {
		if current != nil {
			entries = append(entries, current)
			current = nil
		}
	}

	for _, line := range body {
		if looksLikeEntryStart(line) {
			flush()
			current = map[string]interface{}{"title": e.cap(line)}
			continue
		}
		if current == nil {
			current = map[string]interface{}{"title": e.cap(line)}
			continue
		}
		if start, end, ok := parseDateRange(line); ok {
			current["start_date"] = start
			if end != "" {
				current["end_date"] = end
			}
			continue
		}
		desc, _ := current["description"].(string)
		if desc != "" {
			desc += "\n"
		}
		current["description"] = e.cap(desc + strings.TrimPrefix(strings.TrimPrefix(line, "- "), "• "))
	}
	flush()
	return entries
}

var dateRangeRe = regexp.MustCompile(`(?i)(\d{4}(?:-\d{2}){0,2})\s*[-–—to]+\s*(present|\d{4}(?:-\d{2}){0,2})`)

func parseDateRange(line string) (start, end string, ok bool) {
	m := dateRangeRe.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	end = strings.ToLower(m[2])
	return m[1], end, true
}

func looksLikeEntryStart(line string) bool {
	// Bullets and date lines continue the current entry.
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "• ") {
		return false
	}
	if dateRangeRe.MatchString(line) {
		return false
	}
	// Company/role lines conventionally contain a separator.
	return strings.Contains(line, " at ") || strings.Contains(line, " — ") ||
		strings.Contains(line, " | ") || strings.Contains(line, ", ")
}

func parseSkills(body []string) []interface{} {
	var skills []interface{}
	seen := map[string]bool{}
	for _, line := range body {
		line = strings.TrimPrefix(strings.TrimPrefix(line, "- "), "• ")
		for _, part := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ';' || r == '|'
		}) {
			skill := strings.TrimSpace(part)
			if skill == "" || seen[strings.ToLower(skill)] {
				continue
			}
			seen[strings.ToLower(skill)] = true
			skills = append(skills, skill)
		}
	}
	return skills
}

// cap bounds a field to maxFieldBytes without splitting a rune.
func (e *PlainText) cap(s string) string {
	if len(s) <= e.maxFieldBytes {
		return s
	}
	cut := e.maxFieldBytes
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
