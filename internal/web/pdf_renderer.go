package web

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/joelkehle/cancer-navigator/internal/report"
)

const pdfDisclaimer = "Informational summary generated from public trial listings and a language model. It is not medical advice; review every entry with your care team."

var (
	reResearchHeading = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Research Direction\s*</h2>`)
	reSectionHeading  = regexp.MustCompile(`(?i)<h2([^>]*)>\s*(Top Centers|Active Trials|Contacts)\s*</h2>`)
)

type ChromiumPDFRenderer struct {
	webDir     string
	chromePath string
	styleOnce  sync.Once
	styleCSS   string
	styleErr   error
}

func NewChromiumPDFRenderer(webDir string) *ChromiumPDFRenderer {
	return &ChromiumPDFRenderer{
		webDir:     webDir,
		chromePath: detectChromePath(),
	}
}

func (r *ChromiumPDFRenderer) Render(ctx context.Context, rep report.Report) ([]byte, error) {
	htmlDoc, err := r.buildHTML(rep)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
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
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;padding-right:8px;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.45).
				WithMarginRight(0.45).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func (r *ChromiumPDFRenderer) buildHTML(rep report.Report) (string, error) {
	content := rep.HTML
	if strings.TrimSpace(content) == "" {
		rendered, err := report.RenderHTML(rep.Markdown)
		if err != nil {
			return "", err
		}
		content = rendered
	}
	styleCSS, err := r.loadStyleCSS()
	if err != nil {
		return "", err
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Clinical Trials Report</title>" +
		"<style>" + styleCSS + "\n" +
		"html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;} " +
		"body{background:#fff !important;padding:0.6rem;} .pdf-wrap{max-width:1000px;margin:0 auto;} " +
		".report-html a{color:#1d4ed8 !important;text-decoration:underline !important;} " +
		".report-html h2[data-section-heading='true']{border-bottom:2px solid #0f766e;padding-bottom:0.2rem;} " +
		".report-html table{width:100% !important;border-collapse:collapse !important;border:1px solid #a8a29e !important;font-size:0.8rem !important;} " +
		".report-html th,.report-html td{border:1px solid #a8a29e !important;padding:0.35rem 0.45rem !important;text-align:left !important;vertical-align:top !important;} " +
		`h2[data-page-break-before="true"]{break-before:page;page-break-before:always;} ` +
		".report-disclaimer{margin-top:1.5rem;font-size:0.75rem;color:#57534e;} " +
		"@media print{ @page{size:auto;margin:12mm;} body{padding:0;} .pdf-wrap{max-width:none;} }" +
		"</style></head><body>" +
		"<div class='pdf-wrap'><section class='report-viewer'><div class='report-header'>" +
		"<div class='report-meta'>" + buildMetaHTML(rep) + "</div>" +
		"</div><div class='report-html'>" + applyPrintLayoutHooks(content) + "</div>" +
		"<p class='report-disclaimer'>" + html.EscapeString(pdfDisclaimer) + "</p>" +
		"</section></div></body></html>", nil
}

func applyPrintLayoutHooks(contentHTML string) string {
	out := reResearchHeading.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true" data-section-heading="true">Research Direction</h2>`)
	return reSectionHeading.ReplaceAllString(out, `<h2$1 data-section-heading="true">$2</h2>`)
}

func (r *ChromiumPDFRenderer) loadStyleCSS() (string, error) {
	r.styleOnce.Do(func() {
		b, err := os.ReadFile(filepath.Join(r.webDir, "style.css"))
		if err != nil {
			r.styleErr = fmt.Errorf("read style.css: %w", err)
			return
		}
		r.styleCSS = string(b)
	})
	return r.styleCSS, r.styleErr
}

func buildMetaHTML(rep report.Report) string {
	var out strings.Builder
	if rep.CancerType != "" {
		profile := rep.CancerType
		if rep.Mutation != "" {
			profile += " (" + rep.Mutation + ")"
		}
		out.WriteString("<div><strong>Profile:</strong> " + html.EscapeString(profile) + "</div>")
	}
	if rep.Region != "" {
		out.WriteString("<div><strong>Region:</strong> " + html.EscapeString(rep.Region) + "</div>")
	}
	if rep.Studies >= 0 {
		out.WriteString(fmt.Sprintf("<div><strong>Trials reviewed:</strong> %d</div>", rep.Studies))
	}
	if !rep.GeneratedAt.IsZero() {
		out.WriteString("<div><strong>Date:</strong> " + html.EscapeString(rep.GeneratedAt.In(time.Local).Format("January 2, 2006 at 3:04 PM MST")) + "</div>")
	}
	return out.String()
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
