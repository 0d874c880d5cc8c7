// Package render turns a discharge letter into printable HTML and PDF.
package render

import (
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/joelkehle/discharge-docs/internal/letter"
)

//go:embed style.css
var defaultStyle string

// Document is a letter with the context printed above it.
type Document struct {
	PatientID   string
	GeneratedAt time.Time
	// Notice is shown above the letter, e.g. an age warning.
	Notice string
	Letter letter.GeneratedLetter
}

type PDFRenderer struct {
	styleDir   string
	chromePath string
	timeout    time.Duration
	styleOnce  sync.Once
	styleCSS   string
	styleErr   error
}

// NewPDFRenderer uses style.css from styleDir, or the built-in stylesheet
// when styleDir is empty.
func NewPDFRenderer(styleDir string) *PDFRenderer {
	return &PDFRenderer{
		styleDir:   styleDir,
		chromePath: detectChromePath(),
		timeout:    30 * time.Second,
	}
}

func (r *PDFRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	htmlDoc, err := r.BuildHTML(doc)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Pagina <span class="pageNumber"></span> van <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.6).
				WithMarginBottom(0.75).
				WithMarginLeft(0.6).
				WithMarginRight(0.6).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// BuildHTML renders the standalone HTML page that is printed to PDF.
func (r *PDFRenderer) BuildHTML(doc Document) (string, error) {
	rendering, err := letter.Format(doc.Letter, letter.ModeMarkdown, letter.Options{ApplyFilters: true})
	if err != nil {
		return "", err
	}
	styleCSS, err := r.loadStyleCSS()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<!doctype html><html lang='nl'><head><meta charset='utf-8'><title>Ontslagbrief</title><style>")
	b.WriteString(styleCSS)
	b.WriteString("</style></head><body><div class='letter-wrap'><header class='letter-header'><h1>AI-ontslagbrief</h1>")
	b.WriteString("<div class='letter-meta'>" + metaHTML(doc) + "</div>")
	if notice := strings.TrimSpace(doc.Notice); notice != "" {
		b.WriteString("<div class='letter-notice'>" + html.EscapeString(notice) + "</div>")
	}
	b.WriteString("</header>")
	for _, block := range rendering.Blocks {
		fallback := ""
		if block.Header == letter.FallbackHeader {
			fallback = ` data-fallback="true"`
		}
		b.WriteString("<section class='letter-section'" + fallback + "><h2>" + html.EscapeString(block.Header) + "</h2>")
		b.WriteString(block.HTML)
		b.WriteString("</section>")
	}
	b.WriteString("</div></body></html>")
	return b.String(), nil
}

func metaHTML(doc Document) string {
	var parts []string
	if doc.PatientID != "" {
		parts = append(parts, "<strong>Patiëntnummer:</strong> "+html.EscapeString(doc.PatientID))
	}
	at := doc.GeneratedAt
	if at.IsZero() {
		at = doc.Letter.GeneratedAt
	}
	if !at.IsZero() {
		parts = append(parts, "<strong>Gegenereerd op:</strong> "+html.EscapeString(at.Format("02-01-2006 15:04")))
	}
	return strings.Join(parts, " &middot; ")
}

func (r *PDFRenderer) loadStyleCSS() (string, error) {
	r.styleOnce.Do(func() {
		if r.styleDir == "" {
			r.styleCSS = defaultStyle
			return
		}
		b, err := os.ReadFile(filepath.Join(r.styleDir, "style.css"))
		if err != nil {
			r.styleErr = fmt.Errorf("read style.css: %w", err)
			return
		}
		r.styleCSS = string(b)
	})
	return r.styleCSS, r.styleErr
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
