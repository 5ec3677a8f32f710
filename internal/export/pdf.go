package export

import (
	"context"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	pdfTimeout     = 30 * time.Second
	maxFilenameLen = 50
)

// browserNames are tried in order when looking for a headless browser.
var browserNames = []string{"chromium", "chromium-browser", "google-chrome"}

// printSetup is the paper layout of a printed sheet. Inches throughout.
type printSetup struct {
	width, height float64
	margin        float64
	header        string
	footer        string
}

// sheetPrintSetup lays a sheet out on US Letter with the title in the running
// header and the agent, print time and page count in the footer. Long sheets
// get tighter margins so a script stays on as few pages as possible.
func sheetPrintSetup(sheet Sheet) printSetup {
	setup := printSetup{width: 8.5, height: 11, margin: 0.75}
	if len(sheet.Steps) > 12 {
		setup.margin = 0.5
	}

	title := strings.TrimSpace(sheet.Title)
	if title == "" {
		title = "Call script"
	}
	setup.header = fmt.Sprintf(`<div style="font-size:8px;width:100%%;padding:0 0.5in;color:#555;">%s</div>`,
		html.EscapeString(title))

	var meta []string
	if agent := strings.TrimSpace(sheet.Agent); agent != "" {
		meta = append(meta, html.EscapeString(agent))
	}
	if !sheet.GeneratedAt.IsZero() {
		meta = append(meta, html.EscapeString(sheet.GeneratedAt.Format("Jan 2, 2006 3:04 PM")))
	}
	setup.footer = fmt.Sprintf(`<div style="font-size:8px;width:100%%;padding:0 0.5in;color:#555;display:flex;justify-content:space-between;">`+
		`<span>%s</span><span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`,
		strings.Join(meta, " · "))
	return setup
}

func findBrowser() (string, error) {
	for _, name := range browserNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no chromium or chrome on PATH", ErrPDFDependencyMissing)
}

// PrintSheet prints the rendered sheet HTML through headless Chrome.
func PrintSheet(ctx context.Context, sheet Sheet, document string) ([]byte, error) {
	browser, err := findBrowser()
	if err != nil {
		return nil, err
	}
	setup := sheetPrintSetup(sheet)

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(browser),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var data []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, document).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(setup.width).
				WithPaperHeight(setup.height).
				WithMarginTop(setup.margin).
				WithMarginBottom(setup.margin).
				WithMarginLeft(setup.margin).
				WithMarginRight(setup.margin).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(setup.header).
				WithFooterTemplate(setup.footer).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print sheet %q: %w", sheet.Title, err)
	}
	return data, nil
}

// sanitizeFilename keeps letters, digits, dashes and underscores; spaces become dashes.
func sanitizeFilename(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, title)
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if name == "" {
		return "call-script"
	}
	return name
}
