// Package pipeline runs the per-encounter flow: assemble the patient file,
// pick the department prompts, count tokens and generate the letter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/joelkehle/discharge-docs/internal/letter"
	"github.com/joelkehle/discharge-docs/internal/patientfile"
	"github.com/joelkehle/discharge-docs/internal/prompt"
	"github.com/joelkehle/discharge-docs/internal/record"
)

var ErrNoRecords = errors.New("no records for encounter")

// EncounterError ties a failed stage to the encounter it ran for.
type EncounterError struct {
	EncounterID string
	Stage       string
	Err         error
}

func (e *EncounterError) Error() string {
	return fmt.Sprintf("encounter %s: %s: %v", e.EncounterID, e.Stage, e.Err)
}

func (e *EncounterError) Unwrap() error { return e.Err }

type ProgressFn func(encounterID, message string)

type Settings struct {
	Deployment  string
	Temperature float64
	Order       patientfile.Order
}

type Pipeline struct {
	builder  *prompt.Builder
	library  *prompt.Library
	settings Settings
	logger   zerolog.Logger
}

func New(builder *prompt.Builder, library *prompt.Library, settings Settings, logger zerolog.Logger) *Pipeline {
	return &Pipeline{builder: builder, library: library, settings: settings, logger: logger}
}

func (p *Pipeline) Settings() Settings { return p.settings }

// Check reports a deployment the builder has no context window for.
func (p *Pipeline) Check() error {
	_, err := p.builder.MaxContextFor(p.settings.Deployment)
	return err
}

type Result struct {
	EncounterID   string
	PatientID     string
	Department    string
	AdmissionDate *time.Time
	PatientFile   string
	Tokens        int
	Letter        letter.GeneratedLetter
}

// Run generates the letter for one encounter of records.
func (p *Pipeline) Run(ctx context.Context, records []record.ClinicalRecord, encounterID string) (Result, error) {
	file, subset := patientfile.Assemble(records, patientfile.Options{EncounterID: encounterID, Order: p.settings.Order})
	if len(subset) == 0 {
		return Result{EncounterID: encounterID}, &EncounterError{EncounterID: encounterID, Stage: "assemble", Err: ErrNoRecords}
	}
	first := subset[0]
	res, err := p.GenerateFromFile(ctx, first.Department, file)
	res.EncounterID = encounterID
	res.PatientID = first.PatientID
	res.AdmissionDate = first.AdmissionDate
	if err != nil {
		return res, &EncounterError{EncounterID: encounterID, Stage: "generate", Err: err}
	}
	return res, nil
}

// GenerateFromFile generates a letter from an already assembled patient
// file, as received from on-demand clients.
func (p *Pipeline) GenerateFromFile(ctx context.Context, department, file string) (Result, error) {
	res := Result{Department: department, PatientFile: file}
	req, err := p.library.Request(department)
	if err != nil {
		return res, err
	}
	req.PatientFile = file
	res.Tokens = p.builder.CountRequest(req)

	p.logger.Info().Str("department", department).Int("tokens", res.Tokens).Msg("generating discharge letter")
	l, err := p.builder.Generate(ctx, req, p.settings.Temperature, p.settings.Deployment)
	if err != nil {
		return res, err
	}
	res.Letter = l
	return res, nil
}

// RunAll generates one letter per encounter, in encounter order. An
// unusable deployment fails the whole run before any call. An encounter
// that fails on its own is reported as an *EncounterError and skipped;
// cancellation stops the run.
func (p *Pipeline) RunAll(ctx context.Context, records []record.ClinicalRecord, progress ProgressFn) ([]Result, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	var (
		out  []Result
		errs []error
	)
	for _, enc := range patientfile.Encounters(records) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		emit(progress, enc, "generating")
		res, err := p.Run(ctx, records, enc)
		if err != nil {
			p.logger.Error().Err(err).Str("enc_id", enc).Msg("encounter skipped")
			errs = append(errs, err)
			continue
		}
		emit(progress, enc, string(res.Letter.Outcome))
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// RunIterative rebuilds the letter of one encounter day by day.
func (p *Pipeline) RunIterative(ctx context.Context, records []record.ClinicalRecord, encounterID string) ([]prompt.DatedLetter, error) {
	_, subset := patientfile.Assemble(records, patientfile.Options{EncounterID: encounterID, Order: p.settings.Order})
	if len(subset) == 0 {
		return nil, &EncounterError{EncounterID: encounterID, Stage: "assemble", Err: ErrNoRecords}
	}
	req, err := p.library.IterativeRequest(subset[0].Department)
	if err != nil {
		return nil, &EncounterError{EncounterID: encounterID, Stage: "prompt", Err: err}
	}
	letters, err := p.builder.Iterate(ctx, subset, req, p.settings.Temperature, p.settings.Deployment)
	if err != nil {
		return letters, &EncounterError{EncounterID: encounterID, Stage: "iterate", Err: err}
	}
	return letters, nil
}

func emit(progress ProgressFn, enc, msg string) {
	if progress != nil {
		progress(enc, msg)
	}
}
