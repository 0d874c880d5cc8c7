package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/discharge-docs/internal/httpapi"
	"github.com/joelkehle/discharge-docs/internal/ledger"
	"github.com/joelkehle/discharge-docs/internal/render"
	"github.com/joelkehle/discharge-docs/internal/telemetry"
)

func serveCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the discharge letter API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rt)
			if err != nil {
				return err
			}
			noPDF, _ := cmd.Flags().GetBool("no-pdf")
			styleDir, _ := cmd.Flags().GetString("style-dir")
			return a.serve(cmd.Context(), !noPDF, styleDir)
		},
	}
	cmd.Flags().Bool("no-pdf", false, "Disable the PDF retrieval endpoint")
	cmd.Flags().String("style-dir", "", "Directory containing style.css for PDF letters")
	return cmd
}

func (a *app) serve(parent context.Context, withPDF bool, styleDir string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, a.cfg.Telemetry.OTLPEndpoint, a.cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			a.logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	store, err := ledger.Open(a.cfg.Database.Driver, a.cfg.Database.DSN, ledger.WithVersion(version))
	if err != nil {
		return err
	}
	defer store.Close()

	m, reg := newMetrics()
	p, err := a.pipeline("", m)
	if err != nil {
		return err
	}

	deps := httpapi.Dependencies{
		Pipeline:     p,
		Ledger:       store,
		Deidentifier: a.deidentifier(),
		Filters:      a.cfg.FilterTable(),
		Metrics:      m,
		Gatherer:     reg,
		Keys:         a.cfg.APIKeys,
		Logger:       a.logger,
		Version:      version,
	}
	if withPDF {
		deps.Renderer = render.NewPDFRenderer(styleDir)
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           httpapi.NewServer(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", a.cfg.Server.Addr).
			Str("environment", a.cfg.Environment).
			Str("deployment", p.Settings().Deployment).
			Str("database", a.cfg.Database.Driver).
			Msg("discharge-docs listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
