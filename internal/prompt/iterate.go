package prompt

import (
	"context"
	"time"

	"github.com/joelkehle/discharge-docs/internal/letter"
	"github.com/joelkehle/discharge-docs/internal/patientfile"
	"github.com/joelkehle/discharge-docs/internal/record"
)

// DatedLetter is the letter generated after one day of an admission.
type DatedLetter struct {
	Date   time.Time
	Tokens int
	Letter letter.GeneratedLetter
}

// IterativeFile embeds the letter so far and the sections of one day.
func IterativeFile(previous, day string) string {
	return "\n\n# 1. Huidige ontslagbrief\n" + previous + "\n\n# 2. Huidige dagstatus\n" + day
}

// Iterate regenerates the letter day by day. Each day sees the last
// successful letter and only that day's sections. A failed day does not
// stop the run; every day's outcome is returned.
func (b *Builder) Iterate(ctx context.Context, records []record.ClinicalRecord, req Request, temperature float64, deployment string) ([]DatedLetter, error) {
	if _, err := b.MaxContextFor(deployment); err != nil {
		return nil, err
	}
	var skipped int
	for _, r := range records {
		if r.Timestamp == nil {
			skipped++
		}
	}
	if skipped > 0 {
		b.logger.Warn().Int("records", skipped).Msg("records without a date are left out of the iterative run")
	}

	var (
		out     []DatedLetter
		current string
	)
	for _, d := range patientfile.Dates(records) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		day, _ := patientfile.Assemble(patientfile.OnDate(records, d), patientfile.Options{})
		step := req
		step.PatientFile = IterativeFile(current, day)
		tokens := b.CountRequest(step)
		l, err := b.Generate(ctx, step, temperature, deployment)
		if err != nil {
			return out, err
		}
		out = append(out, DatedLetter{Date: d, Tokens: tokens, Letter: l})
		if l.OK() {
			current = letter.PlainText(l, letter.Options{})
		}
	}
	return out, nil
}
