package services

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"horizon-research-engine/internal/config"
	"horizon-research-engine/internal/models"
	"horizon-research-engine/internal/pkg/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const maxExtractLength = 4000

// EnrichmentService fetches citation pages so the synthesizer can work from
// article text instead of search snippets alone. Strictly best-effort: any
// fetch failure leaves the citation's snippet as the only evidence.
type EnrichmentService struct {
	collector  *colly.Collector
	config     config.EnrichConfig
	logger     *logger.Logger
	userAgents []string
	uaIndex    int
	mu         sync.Mutex
}

func NewEnrichmentService(cfg config.EnrichConfig, log *logger.Logger) *EnrichmentService {
	collector := colly.NewCollector(
		colly.UserAgent("Horizon-Research-Engine/1.0"),
		colly.AllowedDomains(),
	)

	collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.MaxConcurrency,
		Delay:       1 * time.Second,
	})

	collector.SetRequestTimeout(cfg.Timeout)

	service := &EnrichmentService{
		collector: collector,
		config:    cfg,
		logger:    log,
		userAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/120.0",
		},
	}

	log.Info("Enrichment Service Initialized Successfully",
		"max_pages", cfg.MaxPages,
		"max_concurrency", cfg.MaxConcurrency,
		"timeout", cfg.Timeout)

	return service
}

// EnrichCitations fetches up to limit citation pages and returns extracted
// article text keyed by URL. Failed fetches are simply absent from the map.
func (service *EnrichmentService) EnrichCitations(ctx context.Context, citations []models.Citation, limit int) map[string]string {
	startTime := time.Now()

	if limit <= 0 || limit > service.config.MaxPages {
		limit = service.config.MaxPages
	}

	targets := make([]string, 0, limit)
	seen := make(map[string]bool)
	for _, citation := range citations {
		if len(targets) >= limit {
			break
		}
		if citation.URL == "" || seen[citation.URL] {
			continue
		}
		seen[citation.URL] = true
		targets = append(targets, citation.URL)
	}

	extracted := make(map[string]string, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, service.config.MaxConcurrency)

	for _, target := range targets {
		wg.Add(1)
		go func(pageURL string) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				return
			}

			content, err := service.fetchPage(ctx, pageURL)
			if err != nil {
				service.logger.WithError(err).Debug("Citation page fetch failed", "url", pageURL)
				return
			}
			if content == "" {
				return
			}

			mu.Lock()
			extracted[pageURL] = content
			mu.Unlock()
		}(target)
	}

	wg.Wait()

	service.logger.LogService("enrichment", "enrich_citations", time.Since(startTime), map[string]interface{}{
		"requested": len(targets),
		"extracted": len(extracted),
	}, nil)

	return extracted
}

func (service *EnrichmentService) fetchPage(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", nil
	}

	c := service.collector.Clone()

	var content string

	c.OnRequest(func(r *colly.Request) {
		service.mu.Lock()
		r.Headers.Set("User-Agent", service.userAgents[service.uaIndex])
		service.uaIndex = (service.uaIndex + 1) % len(service.userAgents)
		service.mu.Unlock()

		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		content = service.extractArticleText(e)
	})

	var fetchErr error
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Visit(pageURL); err != nil && fetchErr == nil {
			fetchErr = err
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if fetchErr != nil {
		return "", fetchErr
	}

	return content, nil
}

func (service *EnrichmentService) extractArticleText(e *colly.HTMLElement) string {
	var texts []string
	skipTags := map[string]bool{"script": true, "style": true, "nav": true, "footer": true, "header": true, "noscript": true, "aside": true}

	e.DOM.Find("article p, main p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) > 40 {
			texts = append(texts, text)
		}
	})

	if len(texts) == 0 {
		e.DOM.Find("body p").Each(func(_ int, s *goquery.Selection) {
			if skipTags[strings.ToLower(goquery.NodeName(s.Parent()))] {
				return
			}
			text := strings.TrimSpace(s.Text())
			if len(text) > 40 {
				texts = append(texts, text)
			}
		})
	}

	return service.cleanText(strings.Join(texts, "\n\n"))
}

func (service *EnrichmentService) cleanText(content string) string {
	if content == "" {
		return content
	}

	content = regexp.MustCompile(`\s+`).ReplaceAllString(content, " ")
	content = strings.TrimSpace(content)

	if len(content) > maxExtractLength {
		content = content[:maxExtractLength] + "..."
	}

	return content
}

func (service *EnrichmentService) HealthCheck(ctx context.Context) error {
	return nil
}
