// Package jobfetch retrieves job posting text from a URL with a
// headless browser, so postings rendered client-side still yield
// usable text for tailoring.
package jobfetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// Posting is the fetched content of one job posting.
type Posting struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Truncated bool      `json:"truncated"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher retrieves a job posting.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Posting, error)
	Close() error
}

// Config holds fetcher settings.
type Config struct {
	Timeout      time.Duration
	MaxTextBytes int
	Logger       zerolog.Logger
}

// RodFetcher drives a headless Chrome instance. The browser is
// launched lazily on first fetch and reused afterwards.
type RodFetcher struct {
	timeout      time.Duration
	maxTextBytes int
	logger       zerolog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// New creates a RodFetcher.
func New(cfg Config) *RodFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = 32 * 1024
	}
	return &RodFetcher{
		timeout:      cfg.Timeout,
		maxTextBytes: cfg.MaxTextBytes,
		logger:       cfg.Logger,
	}
}

// Fetch navigates to the posting URL and extracts the visible text.
func (f *RodFetcher) Fetch(ctx context.Context, rawURL string) (*Posting, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid posting URL %q", rawURL)
	}

	browser, err := f.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(f.timeout)

	start := time.Now()
	if err := page.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("page load timeout for %s: %w", rawURL, err)
	}

	text, err := page.Eval(`() => document.body.innerText`)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}

	info, _ := page.Info()
	title := ""
	if info != nil {
		title = info.Title
	}

	posting := &Posting{
		URL:       rawURL,
		Title:     title,
		FetchedAt: time.Now(),
	}
	posting.Text, posting.Truncated = boundText(text.Value.String(), f.maxTextBytes)

	f.logger.Debug().
		Str("url", rawURL).
		Int("text_bytes", len(posting.Text)).
		Bool("truncated", posting.Truncated).
		Dur("duration", time.Since(start)).
		Msg("Job posting fetched")

	return posting, nil
}

func (f *RodFetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	f.browser = browser
	return browser, nil
}

// Close shuts down the browser if one was launched.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}

// boundText trims text to maxBytes without splitting a rune, after
// collapsing runs of blank lines that headless extraction produces.
func boundText(s string, maxBytes int) (string, bool) {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	cleaned := strings.Join(out, "\n")

	if len(cleaned) <= maxBytes {
		return cleaned, false
	}
	cut := maxBytes
	for cut > 0 && !isRuneStart(cleaned[cut]) {
		cut--
	}
	return cleaned[:cut], true
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
