package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joelkehle/discharge-docs/internal/ledger"
	"github.com/joelkehle/discharge-docs/internal/letter"
	"github.com/joelkehle/discharge-docs/internal/patientfile"
	"github.com/joelkehle/discharge-docs/internal/pipeline"
	"github.com/joelkehle/discharge-docs/internal/record"
	"github.com/joelkehle/discharge-docs/internal/render"
)

const defaultRetentionMonths = 7

// HiXPatientFile is the output of /process-hix-data and the input of
// /generate-hix-discharge-docs.
type HiXPatientFile struct {
	Department string `json:"department"`
	Value      string `json:"value"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.deps.Version})
}

func (s *Server) normalizeOptions(encounterID string) record.Options {
	return record.Options{
		Filters:      s.deps.Filters,
		Deidentifier: s.deps.Deidentifier,
		EncounterID:  encounterID,
		Logger:       s.deps.Logger,
	}
}

func (s *Server) handleProcessAndGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.deps.Ledger.BeginRequest(ctx, "/process-and-generate-discharge-docs")
	if err != nil {
		s.internalError(w, r, "could not record request", err)
		return
	}
	rows, err := record.DecodeRows(limitBody(w, r), record.SourceMetavision)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	records, err := record.Normalize(rows, record.SourceMetavision, s.normalizeOptions(""))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	results, runErr := s.deps.Pipeline.RunAll(ctx, records, nil)
	if runErr != nil {
		var encErr *pipeline.EncounterError
		if ctx.Err() != nil || !errors.As(runErr, &encErr) {
			s.finish(ctx, req, http.StatusInternalServerError)
			s.internalError(w, r, "generation failed", runErr)
			return
		}
		s.deps.Logger.Warn().Err(runErr).Msg("some encounters were not generated")
	}
	for _, res := range results {
		if err := s.store(ctx, req, res); err != nil {
			s.internalError(w, r, "could not store letter", err)
			return
		}
	}
	s.finish(ctx, req, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Success"})
}

// store records one generated letter and prunes the encounter's history.
func (s *Server) store(ctx context.Context, req ledger.Request, res pipeline.Result) error {
	encID, err := s.deps.Ledger.UpsertEncounter(ctx, ledger.Encounter{
		EncID:         res.EncounterID,
		PatientID:     res.PatientID,
		Department:    res.Department,
		AdmissionDate: res.AdmissionDate,
	})
	if err != nil {
		return err
	}
	if _, err := s.deps.Ledger.RecordGeneration(ctx, ledger.Generation{
		RequestID:   req.ID,
		EncounterID: encID,
		Letter:      res.Letter,
		InputTokens: res.Tokens,
	}); err != nil {
		return err
	}
	if res.EncounterID == "" {
		return nil
	}
	n, err := s.deps.Ledger.PruneOutdated(ctx, encID)
	if err != nil {
		return err
	}
	s.deps.Metrics.ObserveRemoved(int(n))
	if n > 0 {
		s.deps.Logger.Info().Int64("removed", n).Str("enc_id", res.EncounterID).Msg("removed outdated discharge letters")
	}
	return nil
}

func (s *Server) handleProcessHiX(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.deps.Ledger.BeginRequest(ctx, "/process-hix-data")
	if err != nil {
		s.internalError(w, r, "could not record request", err)
		return
	}
	rows, err := record.DecodeRows(limitBody(w, r), record.SourceHiX)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	records, err := record.Normalize(rows, record.SourceHiX, s.normalizeOptions(record.DefaultEncounterID))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	file, subset := patientfile.Assemble(records, patientfile.Options{EncounterID: record.DefaultEncounterID})
	if len(subset) == 0 {
		writeError(w, http.StatusUnprocessableEntity, CodeBadRequest, "export contains no usable patient data")
		return
	}
	s.finish(ctx, req, http.StatusOK)
	writeJSON(w, http.StatusOK, HiXPatientFile{Department: subset[0].Department, Value: file})
}

func (s *Server) handleGenerateHiX(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.deps.Ledger.BeginRequest(ctx, "/generate-hix-discharge-docs")
	if err != nil {
		s.internalError(w, r, "could not record request", err)
		return
	}
	var in HiXPatientFile
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}
	res, err := s.deps.Pipeline.GenerateFromFile(ctx, in.Department, in.Value)
	if err != nil {
		if isBadInput(err) {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "generation failed", err)
		return
	}
	if err := s.store(ctx, req, res); err != nil {
		s.internalError(w, r, "could not store letter", err)
		return
	}

	message := res.Letter.Outcome.Message()
	if res.Letter.OK() {
		out, err := letter.Format(res.Letter, letter.ModePlain, letter.Options{IncludeTimestamp: true})
		if err != nil {
			s.internalError(w, r, "could not format letter", err)
			return
		}
		message = out.Text
	}
	s.finish(ctx, req, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{"message": message})
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request, endpoint string) (ledger.Retrieval, bool) {
	ctx := r.Context()
	encID := chi.URLParam(r, "encID")
	req, err := s.deps.Ledger.BeginRequest(ctx, endpoint)
	if err != nil {
		s.internalError(w, r, "could not record request", err)
		return ledger.Retrieval{}, false
	}
	out, err := s.deps.Ledger.Retrieve(ctx, encID)
	if err != nil {
		s.internalError(w, r, "could not read letters", err)
		return ledger.Retrieval{}, false
	}
	if err := s.deps.Ledger.RecordRetrieve(ctx, req.ID, encID, out); err != nil {
		s.internalError(w, r, "could not record retrieval", err)
		return ledger.Retrieval{}, false
	}
	s.finish(ctx, req, http.StatusOK)
	return out, true
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	out, ok := s.retrieve(w, r, "/retrieve-discharge-doc")
	if !ok {
		return
	}
	writeText(w, http.StatusOK, out.Message)
}

func (s *Server) handleRetrievePDF(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "pdf rendering is not enabled")
		return
	}
	out, ok := s.retrieve(w, r, "/retrieve-discharge-doc/pdf")
	if !ok {
		return
	}
	if !out.Success {
		writeError(w, http.StatusNotFound, CodeNotFound, out.Message)
		return
	}
	doc := render.Document{
		PatientID:   out.PatientID,
		GeneratedAt: out.Letter.GeneratedAt.In(s.deps.Now().Location()),
		Notice:      ageNotice(out.DaysOld),
		Letter:      out.Letter,
	}
	pdf, err := s.deps.Renderer.Render(r.Context(), doc)
	if err != nil {
		s.internalError(w, r, "could not render pdf", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "ontslagbrief-"+chi.URLParam(r, "encID")+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func ageNotice(days *int) string {
	if days == nil || *days <= 0 {
		return ""
	}
	if *days > 7 {
		return fmt.Sprintf("NB Let erop dat deze AI-brief meer dan een week geleden is gegenereerd, namelijk %d dagen geleden.", *days)
	}
	return fmt.Sprintf("NB Let erop dat deze AI-brief niet afgelopen nacht is gegenereerd, maar %d dagen geleden.", *days)
}

func (s *Server) handleSaveFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fb, err := ledger.ParseFeedback(chi.URLParam(r, "feedback"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	req, err := s.deps.Ledger.BeginRequest(ctx, "/save-feedback")
	if err != nil {
		s.internalError(w, r, "could not record request", err)
		return
	}
	if err := s.deps.Ledger.RecordFeedback(ctx, req.ID, fb); err != nil {
		s.internalError(w, r, "could not store feedback", err)
		return
	}
	s.finish(ctx, req, http.StatusOK)
	writeText(w, http.StatusOK, "success")
}

func (s *Server) handleRemoveAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	months, err := parseInt(r.URL.Query().Get("n_months"), defaultRetentionMonths)
	if err != nil || months < 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "n_months must be a non-negative integer")
		return
	}
	req, err := s.deps.Ledger.BeginRequest(ctx, "/remove-all-discharge-docs")
	if err != nil {
		s.internalError(w, r, "could not record request", err)
		return
	}
	cutoff := s.deps.Now().AddDate(0, -months, 0)
	n, err := s.deps.Ledger.RemoveOlderThan(ctx, cutoff)
	if err != nil {
		s.internalError(w, r, "could not remove letters", err)
		return
	}
	s.finish(ctx, req, http.StatusOK)
	s.deps.Metrics.ObserveRemoved(int(n))
	if n == 0 {
		s.deps.Logger.Warn().Time("cutoff", cutoff).Msg("no discharge letters found to remove")
		writeJSON(w, http.StatusOK, map[string]any{"message": "No matching discharge docs found"})
		return
	}
	s.deps.Logger.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("removed discharge letters")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Success"})
}
