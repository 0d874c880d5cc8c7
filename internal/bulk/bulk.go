// Package bulk generates letters for many encounters at once and stores
// them in a spreadsheet for offline evaluation.
package bulk

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/discharge-docs/internal/letter"
	"github.com/joelkehle/discharge-docs/internal/patientfile"
	"github.com/joelkehle/discharge-docs/internal/pipeline"
	"github.com/joelkehle/discharge-docs/internal/record"
)

// Row is one encounter in the bulk output.
type Row struct {
	EncounterID string
	Department  string
	Outcome     letter.Outcome
	Tokens      int
	// Letter is the section mapping as JSON; failed encounters carry the
	// fallback mapping.
	Letter      string
	GeneratedAt time.Time
	Error       string
}

type Options struct {
	// Skip lists encounters that already have a letter.
	Skip []string
	// Previous rows are kept at the head of the output.
	Previous []Row
	Progress func(done, total int)
}

type Runner struct {
	pipeline *pipeline.Pipeline
	workers  int
	logger   zerolog.Logger
}

func NewRunner(p *pipeline.Pipeline, workers int, logger zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{pipeline: p, workers: workers, logger: logger}
}

// Generate runs every encounter of records not in opts.Skip, at most
// r.workers at a time. Output order follows encounter order.
func (r *Runner) Generate(ctx context.Context, records []record.ClinicalRecord, opts Options) ([]Row, error) {
	skip := make(map[string]bool, len(opts.Skip)+len(opts.Previous))
	for _, id := range opts.Skip {
		skip[id] = true
	}
	for _, row := range opts.Previous {
		skip[row.EncounterID] = true
	}
	var todo []string
	for _, enc := range patientfile.Encounters(records) {
		if !skip[enc] {
			todo = append(todo, enc)
		}
	}
	if err := r.pipeline.Check(); err != nil {
		return nil, err
	}
	r.logger.Info().Int("encounters", len(todo)).Int("skipped", len(skip)).Msg("bulk generating discharge letters")

	rows := make([]Row, len(todo))
	done := make(chan struct{}, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, enc := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := r.one(gctx, records, enc)
			if err != nil {
				return err
			}
			rows[i] = row
			done <- struct{}{}
			if opts.Progress != nil {
				opts.Progress(len(done), len(todo))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(opts.Previous)+len(rows))
	out = append(out, opts.Previous...)
	return append(out, rows...), nil
}

// one generates a single row. Configuration errors are returned instead of
// becoming a fallback row.
func (r *Runner) one(ctx context.Context, records []record.ClinicalRecord, enc string) (Row, error) {
	res, err := r.pipeline.Run(ctx, records, enc)
	row := Row{EncounterID: enc, Department: res.Department, Tokens: res.Tokens}
	if errors.Is(err, record.ErrConfiguration) {
		return row, err
	}
	if err != nil {
		r.logger.Error().Err(err).Str("enc_id", enc).Msg("bulk generation failed")
		fallback := letter.Failure(letter.OutcomeGeneralError, time.Now())
		row.Outcome = fallback.Outcome
		row.Letter = fallback.JSON()
		row.GeneratedAt = fallback.GeneratedAt
		var encErr *pipeline.EncounterError
		if errors.As(err, &encErr) {
			row.Error = encErr.Err.Error()
		} else {
			row.Error = err.Error()
		}
		return row, nil
	}
	row.Outcome = res.Letter.Outcome
	row.Letter = res.Letter.JSON()
	row.GeneratedAt = res.Letter.GeneratedAt
	return row, nil
}
