// Package patientfile renders the records of one encounter into the
// markdown-like document that is shown to the model.
package patientfile

import (
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/discharge-docs/internal/record"
)

const (
	Title        = "# Patienten dossier\n\n"
	dateLayout   = "2006-01-02 15:04:05"
	unknownDate  = "onbekend"
	excludedWord = "ontslag"
)

type Order int

const (
	// OrderByTime sorts by timestamp, then section label.
	OrderByTime Order = iota
	// OrderByLabel sorts by section label, then timestamp.
	OrderByLabel
)

type Options struct {
	// EncounterID restricts the file to one encounter when set.
	EncounterID string
	Order       Order
}

// Assemble returns the patient file text and the records it was built
// from. Records are never modified.
func Assemble(records []record.ClinicalRecord, opts Options) (string, []record.ClinicalRecord) {
	selected := make([]record.ClinicalRecord, 0, len(records))
	for _, r := range records {
		if opts.EncounterID != "" && r.EncounterID != opts.EncounterID {
			continue
		}
		if isDischargeSection(r.SectionLabel) {
			continue
		}
		selected = append(selected, r)
	}
	sortRecords(selected, opts.Order)

	parts := make([]string, 0, len(selected))
	for _, r := range selected {
		parts = append(parts, "## "+r.SectionLabel+"\n### Datum: "+formatDate(r.Timestamp)+"\n\n"+r.Body)
	}
	return Title + strings.Join(parts, "\n\n"), selected
}

// IsEmpty reports whether a rendered patient file holds no sections.
func IsEmpty(text string) bool {
	return strings.TrimSpace(text) == strings.TrimSpace(Title)
}

func isDischargeSection(label string) bool {
	return strings.Contains(strings.ToLower(label), excludedWord)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return unknownDate
	}
	return t.Format(dateLayout)
}

func sortRecords(rs []record.ClinicalRecord, order Order) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		byTime := record.CompareTimes(a.Timestamp, b.Timestamp)
		byLabel := strings.Compare(a.SectionLabel, b.SectionLabel)
		if order == OrderByLabel {
			if byLabel != 0 {
				return byLabel < 0
			}
			return byTime < 0
		}
		if byTime != 0 {
			return byTime < 0
		}
		return byLabel < 0
	})
}

// Dates returns the distinct calendar days present in records, ascending.
// Records without a timestamp are ignored.
func Dates(records []record.ClinicalRecord) []time.Time {
	seen := map[time.Time]bool{}
	var out []time.Time
	for _, r := range records {
		if r.Timestamp == nil {
			continue
		}
		d := day(*r.Timestamp)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// OnDate returns the records whose timestamp falls on the calendar day d.
func OnDate(records []record.ClinicalRecord, d time.Time) []record.ClinicalRecord {
	d = day(d)
	var out []record.ClinicalRecord
	for _, r := range records {
		if r.Timestamp != nil && day(*r.Timestamp).Equal(d) {
			out = append(out, r)
		}
	}
	return out
}

// DischargeLetters returns the clinician-written letter rows of an
// encounter ordered by date.
func DischargeLetters(records []record.ClinicalRecord, encounterID string) []record.ClinicalRecord {
	var out []record.ClinicalRecord
	for _, r := range records {
		if r.EncounterID == encounterID && isDischargeSection(r.SectionLabel) {
			out = append(out, r)
		}
	}
	sortRecords(out, OrderByTime)
	return out
}

// Encounters lists the distinct encounter ids in first-seen order.
func Encounters(records []record.ClinicalRecord) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range records {
		if !seen[r.EncounterID] {
			seen[r.EncounterID] = true
			out = append(out, r.EncounterID)
		}
	}
	return out
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
