package artifact

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ChromeRenderer prints the session document to PDF through headless
// Chrome. Layout is deliberately plain; typography is not this
// package's concern.
type ChromeRenderer struct {
	mu      sync.Mutex
	browser *rod.Browser
}

// NewChromeRenderer creates a ChromeRenderer. The browser is launched
// lazily on first render.
func NewChromeRenderer() *ChromeRenderer {
	return &ChromeRenderer{}
}

var cvTemplate = template.Must(template.New("cv").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>
body { font-family: Georgia, serif; margin: 2em 3em; color: #222; }
h1 { font-size: 1.6em; margin-bottom: 0; }
h2 { font-size: 1.1em; border-bottom: 1px solid #999; margin-top: 1.2em; }
.muted { color: #555; }
ul { margin: 0.2em 0; }
</style></head><body>
{{with .Contact}}<h1>{{.FullName}}</h1>
<p class="muted">{{.Email}}{{if .Phone}} · {{.Phone}}{{end}}{{if .Location}} · {{.Location}}{{end}}</p>{{end}}
{{with .Summary}}<h2>Summary</h2><p>{{.}}</p>{{end}}
{{if .Experience}}<h2>Experience</h2>{{range .Experience}}
<p><strong>{{.Title}}</strong>{{if .Period}} <span class="muted">({{.Period}})</span>{{end}}</p>
{{if .Description}}<p>{{.Description}}</p>{{end}}{{end}}{{end}}
{{if .Education}}<h2>Education</h2>{{range .Education}}
<p><strong>{{.Title}}</strong>{{if .Period}} <span class="muted">({{.Period}})</span>{{end}}</p>{{end}}{{end}}
{{if .Skills}}<h2>Skills</h2><p>{{.Skills}}</p>{{end}}
</body></html>`))

type cvContact struct {
	FullName, Email, Phone, Location string
}

type cvEntry struct {
	Title, Period, Description string
}

type cvView struct {
	Contact    *cvContact
	Summary    string
	Experience []cvEntry
	Education  []cvEntry
	Skills     string
}

// Render produces PDF bytes for the document.
func (r *ChromeRenderer) Render(ctx context.Context, document map[string]interface{}) (RenderResult, error) {
	var html bytes.Buffer
	if err := cvTemplate.Execute(&html, buildView(document)); err != nil {
		return RenderResult{}, fmt.Errorf("failed to render template: %w", err)
	}

	browser, err := r.ensureBrowser()
	if err != nil {
		return RenderResult{}, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{
		URL: "data:text/html;charset=utf-8," + url.PathEscape(html.String()),
	})
	if err != nil {
		return RenderResult{}, fmt.Errorf("failed to open render page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		return RenderResult{}, fmt.Errorf("render page load failed: %w", err)
	}

	stream, err := page.PDF(&proto.PagePrintToPDF{})
	if err != nil {
		return RenderResult{}, fmt.Errorf("print to pdf failed: %w", err)
	}
	pdf, err := io.ReadAll(stream)
	if err != nil {
		return RenderResult{}, fmt.Errorf("failed to read pdf stream: %w", err)
	}

	return RenderResult{Bytes: pdf, PageCount: countPages(pdf)}, nil
}

func (r *ChromeRenderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	r.browser = browser
	return browser, nil
}

// Close shuts down the browser if one was launched.
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

// countPages counts page objects in the PDF. Chrome emits one
// "/Type /Page" object per page plus a "/Type /Pages" tree node.
func countPages(pdf []byte) int {
	pages := bytes.Count(pdf, []byte("/Type /Page")) - bytes.Count(pdf, []byte("/Type /Pages"))
	if pages < 1 {
		pages = 1
	}
	return pages
}

func buildView(document map[string]interface{}) cvView {
	view := cvView{}

	if contact, ok := document["contact"].(map[string]interface{}); ok {
		view.Contact = &cvContact{
			FullName: str(contact["full_name"]),
			Email:    str(contact["email"]),
			Phone:    str(contact["phone"]),
			Location: str(contact["location"]),
		}
	}
	view.Summary = str(document["summary"])
	view.Experience = entries(document["experience"])
	view.Education = entries(document["education"])

	if skills, ok := document["skills"].([]interface{}); ok {
		var buf bytes.Buffer
		for i, s := range skills {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(str(s))
		}
		view.Skills = buf.String()
	}
	return view
}

func entries(raw interface{}) []cvEntry {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]cvEntry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry := cvEntry{
			Title:       str(m["title"]),
			Description: str(m["description"]),
		}
		start, end := str(m["start_date"]), str(m["end_date"])
		switch {
		case start != "" && end != "":
			entry.Period = start + " – " + end
		case start != "":
			entry.Period = start
		}
		out = append(out, entry)
	}
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
