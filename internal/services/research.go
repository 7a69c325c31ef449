package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/planforge/planforge-backend/internal/apierr"
	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/utils"
)

// SourceData is one usable research result: a page title, its URL and the
// cleaned page text ready to embed into a prompt.
type SourceData struct {
	Title   string
	URL     string
	Content string
}

const (
	maxResearchSources = 5
	maxSourceChars     = 100000
	maxPageBytes       = 4 << 20
)

// ResearchService finds grounding material for a study query: a web search
// narrowed to non-video results, then a fetch and clean of each page.
type ResearchService interface {
	// Collect returns at most 5 sources in search-result order. Pages that
	// fail to fetch are skipped; an empty result is valid and left to the
	// caller to treat as a failure.
	Collect(ctx context.Context, query string) ([]SourceData, error)
}

type researchService struct {
	log        *logger.Logger
	searchURL  string
	apiKey     string
	httpClient *http.Client
}

func NewResearchService(log *logger.Logger) (ResearchService, error) {
	apiKey := utils.GetEnv("SEARCH_API_KEY", "", log)
	if apiKey == "" {
		return nil, fmt.Errorf("missing SEARCH_API_KEY")
	}
	searchURL := utils.GetEnv("SEARCH_URL", "https://google.serper.dev", log)
	timeoutSec := utils.GetEnvAsInt("SEARCH_TIMEOUT_SECONDS", 30, log)

	return &researchService{
		log:        log.With("service", "ResearchService"),
		searchURL:  strings.TrimRight(searchURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

type searchResult struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

type searchResponse struct {
	Organic []searchResult `json:"organic"`
}

func (s *researchService) Collect(ctx context.Context, query string) ([]SourceData, error) {
	results, err := s.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) > maxResearchSources {
		results = results[:maxResearchSources]
	}

	// Fetch pages concurrently but keep search-result order; a failed fetch
	// leaves a hole that is compacted afterwards.
	fetched := make([]*SourceData, len(results))
	g, gctx := errgroup.WithContext(ctx)
	for i, res := range results {
		g.Go(func() error {
			text, err := s.fetchPage(gctx, res.Link)
			if err != nil {
				s.log.Warn("Skipping source page", "url", res.Link, "error", err)
				return nil
			}
			fetched[i] = &SourceData{
				Title:   res.Title,
				URL:     res.Link,
				Content: CleanText(text),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sources := make([]SourceData, 0, len(fetched))
	for _, src := range fetched {
		if src != nil {
			sources = append(sources, *src)
		}
	}
	return sources, nil
}

func (s *researchService) search(ctx context.Context, query string) ([]searchResult, error) {
	payload := map[string]string{
		"q": fmt.Sprintf("what is %s -site:youtube.com", query),
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.searchURL+"/search", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Error("Search request failed", "error", err)
		return nil, apierr.Upstream(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierr.Upstream(fmt.Errorf("search api %d", resp.StatusCode))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apierr.Upstream(fmt.Errorf("decode search response: %w", err))
	}
	return decoded.Organic, nil
}

func (s *researchService) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("page fetch %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return HTMLToText(string(raw)), nil
}

// HTMLToText strips markup down to visible text, skipping script and style
// subtrees, with a newline per text node so CleanText can normalize runs.
func HTMLToText(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	var (
		out  strings.Builder
		skip int
	)
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return out.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isInvisibleTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isInvisibleTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				out.Write(tokenizer.Text())
				out.WriteByte('\n')
			}
		}
	}
}

func isInvisibleTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

var (
	reManyNewlines  = regexp.MustCompile(`\n{4,}`)
	reDoubleNewline = regexp.MustCompile(`\n\n`)
	reManySpaces    = regexp.MustCompile(` {3,}`)
	reNewlineRuns   = regexp.MustCompile(`\n+(\s*\n)*`)
)

// CleanText normalizes scraped page text into a single compact form. The
// output is embedded verbatim inside prompts, so double quotes are downgraded
// to single quotes to keep them from colliding with prompt delimiters. The
// exact order of the steps is load-bearing: downstream prompt fixtures and
// stored sources depend on it being deterministic.
func CleanText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	cleaned := strings.Join(kept, "\n")
	cleaned = reManyNewlines.ReplaceAllString(cleaned, "\n\n")
	cleaned = reDoubleNewline.ReplaceAllString(cleaned, " ")
	cleaned = reManySpaces.ReplaceAllString(cleaned, "  ")
	cleaned = strings.ReplaceAll(cleaned, "\t", "")
	cleaned = reNewlineRuns.ReplaceAllString(cleaned, "\n")
	cleaned = strings.ReplaceAll(cleaned, `"`, "'")

	runes := []rune(cleaned)
	if len(runes) > maxSourceChars {
		runes = runes[:maxSourceChars]
	}
	return string(runes)
}
