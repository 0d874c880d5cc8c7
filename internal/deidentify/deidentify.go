// Package deidentify replaces identifying spans in clinical free text with
// numbered category placeholders such as [PERSOON-1] or [LEEFTIJD-1].
package deidentify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Deidentifier is satisfied by both the local pattern matcher and the
// remote service client.
type Deidentifier interface {
	Deidentify(text string) (string, error)
}

// Placeholder categories.
const (
	CategoryPerson   = "PERSOON"
	CategoryAge      = "LEEFTIJD"
	CategoryLocation = "LOCATIE"
	CategoryPhone    = "TELEFOONNUMMER"
	CategoryEmail    = "EMAIL"
	CategoryURL      = "URL"
	CategoryBSN      = "BSN"
	CategoryPatient  = "PATIENTNUMMER"
)

type rule struct {
	category string
	pattern  *regexp.Regexp
	// group is the submatch that is replaced; 0 replaces the whole match.
	group int
}

var defaultRules = []rule{
	{category: CategoryEmail, pattern: regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)+`)},
	{category: CategoryURL, pattern: regexp.MustCompile(`(?:https?://|www\.)[^\s]+`)},
	{category: CategoryPhone, pattern: regexp.MustCompile(`(?:\+31[\s-]?|\b0)\d{1,3}[\s-]?\d{6,8}\b`)},
	{category: CategoryBSN, pattern: regexp.MustCompile(`\b\d{9}\b`)},
	{category: CategoryPatient, pattern: regexp.MustCompile(`\b\d{7}\b`)},
	{category: CategoryLocation, pattern: regexp.MustCompile(`\b\d{4}\s?[A-Z]{2}\b`)},
	{category: CategoryAge, pattern: regexp.MustCompile(`\b(\d{1,3})(?:-jarige|-jarig| jarige| jaar oud)\b`), group: 1},
	{category: CategoryPerson, pattern: regexp.MustCompile(`(?i:\b(?:dhr|mevr|mw|dr|mr|meneer|mevrouw)\b)\.?\s+([A-Z][\p{L}'-]+(?:\s+(?:van der|van den|van|de|der|den)\s+[A-Z][\p{L}'-]+|\s+[A-Z][\p{L}'-]+)?)`), group: 1},
}

// Patterns is a rule based de-identifier. Names lists known person names
// (for instance from the admission record) that are replaced wherever they
// occur as whole words.
type Patterns struct {
	Names []string
	rules []rule
}

func NewPatterns(names ...string) *Patterns {
	return &Patterns{Names: names, rules: defaultRules}
}

func (p *Patterns) Deidentify(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	ann := newAnnotator()
	out := text
	if re := namesPattern(p.Names); re != nil {
		out = re.ReplaceAllStringFunc(out, func(m string) string {
			return ann.placeholder(CategoryPerson, m)
		})
	}
	rules := p.rules
	if rules == nil {
		rules = defaultRules
	}
	for _, r := range rules {
		out = applyRule(out, r, ann)
	}
	return out, nil
}

func applyRule(text string, r rule, ann *annotator) string {
	if r.group == 0 {
		return r.pattern.ReplaceAllStringFunc(text, func(m string) string {
			return ann.placeholder(r.category, m)
		})
	}
	idx := r.pattern.FindAllStringSubmatchIndex(text, -1)
	if idx == nil {
		return text
	}
	var sb strings.Builder
	last := 0
	for _, loc := range idx {
		start, end := loc[2*r.group], loc[2*r.group+1]
		if start < 0 {
			continue
		}
		sb.WriteString(text[last:start])
		sb.WriteString(ann.placeholder(r.category, text[start:end]))
		last = end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func namesPattern(names []string) *regexp.Regexp {
	var quoted []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			quoted = append(quoted, regexp.QuoteMeta(n))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	// Longest first so "Kees de Vries" wins over "Kees".
	sort.Slice(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// annotator numbers distinct values per category within one text.
type annotator struct {
	seen map[string]map[string]int
}

func newAnnotator() *annotator {
	return &annotator{seen: map[string]map[string]int{}}
}

func (a *annotator) placeholder(category, value string) string {
	values, ok := a.seen[category]
	if !ok {
		values = map[string]int{}
		a.seen[category] = values
	}
	n, ok := values[value]
	if !ok {
		n = len(values) + 1
		values[value] = n
	}
	return fmt.Sprintf("[%s-%d]", category, n)
}
