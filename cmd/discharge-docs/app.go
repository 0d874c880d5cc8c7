package main

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/joelkehle/discharge-docs/internal/config"
	"github.com/joelkehle/discharge-docs/internal/deidentify"
	"github.com/joelkehle/discharge-docs/internal/logging"
	"github.com/joelkehle/discharge-docs/internal/metrics"
	"github.com/joelkehle/discharge-docs/internal/pipeline"
	"github.com/joelkehle/discharge-docs/internal/prompt"
	"github.com/joelkehle/discharge-docs/internal/record"
)

type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	rt     *runtime
}

func loadApp(cmd *cobra.Command, rt *runtime) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr()),
		rt:     rt,
	}, nil
}

func (a *app) deidentifier() record.TextDeidentifier {
	if a.cfg.Deduce.URL != "" {
		return deidentify.NewRemoteClient(a.cfg.Deduce.URL, a.cfg.Deduce.Timeout)
	}
	return deidentify.NewPatterns()
}

// pipeline wires the prompt library, token counter and model client for
// the deployment of env. m may be nil.
func (a *app) pipeline(env string, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	deployment, err := a.cfg.Deployment(env)
	if err != nil {
		return nil, err
	}
	lib, err := prompt.LoadLibrary(prompt.LibraryConfig{Dir: a.cfg.PromptDir})
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	caller := a.rt.caller
	if caller == nil {
		ac, err := prompt.NewAnthropicCaller(a.cfg.LLM.APIKey, a.cfg.LLM.Models, a.cfg.LLM.MaxTokens)
		if err != nil {
			return nil, err
		}
		caller = ac
	}
	counter := a.rt.counter
	if counter == nil {
		tc, err := prompt.NewTiktokenCounter()
		if err != nil {
			return nil, fmt.Errorf("token counter: %w", err)
		}
		counter = tc
	}

	opts := []prompt.Option{prompt.WithLogger(a.logger)}
	if m != nil {
		opts = append(opts, prompt.WithObserver(m))
	}
	builder := prompt.NewBuilder(prompt.Config{ContextLengths: a.cfg.LLM.ContextLengths}, caller, counter, opts...)
	p := pipeline.New(builder, lib, pipeline.Settings{
		Deployment:  deployment,
		Temperature: a.cfg.LLM.Temperature,
	}, a.logger)
	if err := p.Check(); err != nil {
		return nil, err
	}
	return p, nil
}

// readRecords decodes and normalizes an export file ("-" reads stdin).
func (a *app) readRecords(path, source, encounterID string) ([]record.ClinicalRecord, error) {
	kind, err := record.ParseSourceKind(source)
	if err != nil {
		return nil, err
	}
	var in io.Reader = a.rt.stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	rows, err := record.DecodeRows(in, kind)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, kind, record.Options{
		Filters:      a.cfg.FilterTable(),
		Deidentifier: a.deidentifier(),
		EncounterID:  encounterID,
		Logger:       a.logger,
	})
}

func newMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.New(reg), reg
}
