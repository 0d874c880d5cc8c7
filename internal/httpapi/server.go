// Package httpapi exposes letter generation, retrieval and feedback over
// HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/joelkehle/discharge-docs/internal/config"
	"github.com/joelkehle/discharge-docs/internal/ledger"
	"github.com/joelkehle/discharge-docs/internal/metrics"
	"github.com/joelkehle/discharge-docs/internal/pipeline"
	"github.com/joelkehle/discharge-docs/internal/record"
	"github.com/joelkehle/discharge-docs/internal/render"
)

const (
	CodeForbidden  = "forbidden"
	CodeBadRequest = "bad_request"
	CodeNotFound   = "not_found"
	CodeInternal   = "internal"

	forbiddenMessage = "You are not authorized to access this endpoint"
	maxBodyBytes     = 64 << 20
)

// PDFRenderer prints a letter document.
type PDFRenderer interface {
	Render(ctx context.Context, doc render.Document) ([]byte, error)
}

type Dependencies struct {
	Pipeline     *pipeline.Pipeline
	Ledger       *ledger.Store
	Deidentifier record.TextDeidentifier
	Filters      record.FilterTable
	Renderer     PDFRenderer
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Keys         config.APIKeys
	Logger       zerolog.Logger
	Version      string
	Now          func() time.Time
}

type Server struct {
	deps Dependencies
}

func NewServer(deps Dependencies) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	r.With(requireKey(deps.Keys.Generate)).Post("/process-and-generate-discharge-docs", s.handleProcessAndGenerate)
	r.Group(func(hix chi.Router) {
		hix.Use(requireKey(deps.Keys.HiX))
		hix.Post("/process-hix-data", s.handleProcessHiX)
		hix.Post("/generate-hix-discharge-docs", s.handleGenerateHiX)
	})
	r.Group(func(retrieve chi.Router) {
		retrieve.Use(requireKey(deps.Keys.Retrieve))
		retrieve.Get("/retrieve-discharge-doc/{encID}", s.handleRetrieve)
		retrieve.Get("/retrieve_discharge_doc/{encID}", s.handleRetrieve)
		retrieve.Get("/retrieve-discharge-doc/{encID}/pdf", s.handleRetrievePDF)
	})
	r.With(requireKey(deps.Keys.Feedback)).Post("/save-feedback/{feedback}", s.handleSaveFeedback)
	r.With(requireKey(deps.Keys.Remove)).Post("/remove-all-discharge-docs", s.handleRemoveAll)
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(limitBody(w, r)).Decode(dst)
}

func limitBody(w http.ResponseWriter, r *http.Request) io.Reader {
	return http.MaxBytesReader(w, r.Body, maxBodyBytes)
}

func parseInt(value string, def int) (int, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	return strconv.Atoi(value)
}

// requireKey checks the X-API-KEY header against expected. On-demand
// clients send the same key as API-KEY. An empty expected key disables
// the check.
func requireKey(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected != "" {
				got := r.Header.Get("X-API-KEY")
				if got == "" {
					got = r.Header.Get("API-KEY")
				}
				if got != expected {
					writeError(w, http.StatusForbidden, CodeForbidden, forbiddenMessage)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observe logs each request and feeds the request metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.deps.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := s.deps.Now().Sub(start)
		s.deps.Metrics.ObserveRequest(route, status, elapsed)
		s.deps.Logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request handled")
	})
}

// internalError logs err and answers 500. The ledger row of the request
// keeps its initial 500 response code.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.deps.Logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg(msg)
	writeError(w, http.StatusInternalServerError, CodeInternal, msg)
}

func (s *Server) finish(ctx context.Context, req ledger.Request, code int) {
	if err := s.deps.Ledger.FinishRequest(ctx, req, code); err != nil {
		s.deps.Logger.Error().Err(err).Str("endpoint", req.Endpoint).Msg("finish request")
	}
}

func isBadInput(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	return errors.As(err, &syntax) || errors.As(err, &typ) || errors.As(err, &tooLarge) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, record.ErrConfiguration)
}
