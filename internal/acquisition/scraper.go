package acquisition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/pkg/circuitbreaker"
	"github.com/forecast-agent/backend/pkg/config"
	"github.com/forecast-agent/backend/pkg/logger"
	"github.com/forecast-agent/backend/pkg/retry"
)

var (
	reportKeywords     = []string{"quarterly", "q1", "q2", "q3", "q4", "results"}
	transcriptKeywords = []string{"transcript", "concall", "earnings call"}
)

// Listing holds the document descriptors found for a company, in page order.
// Text is empty until fetched.
type Listing struct {
	Reports     []domain.RawDocument
	Transcripts []domain.RawDocument
}

func (l *Listing) Len() int {
	return len(l.Reports) + len(l.Transcripts)
}

type Scraper struct {
	baseURL     string
	userAgent   string
	maxBody     int64
	httpClient  *http.Client
	limiter     *rate.Limiter
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewScraper(cfg config.AcquisitionConfig) *Scraper {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 50 << 20
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.Logger = logger.GetLogger()
	retryConfig.Retryable = retryableFetch

	return &Scraper{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxBody:    maxBody,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		cb: circuitbreaker.NewCircuitBreaker("acquisition", circuitbreaker.Config{
			MaxRequests:      2,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			IsFailure:        retryableFetch,
			OnStateChange: func(name string, _, to circuitbreaker.State) {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
			Logger: logger.GetLogger(),
		}),
		retryConfig: retryConfig,
	}
}

// ListDocuments reads the company's documents section and picks report and
// transcript links, at most quarters of each.
func (s *Scraper) ListDocuments(ctx context.Context, company string, quarters int) (*Listing, error) {
	pageURL := fmt.Sprintf("%s/company/%s/consolidated/", s.baseURL, url.PathEscape(company))
	logger.Info("Fetching document listing", zap.String("company", company), zap.String("url", pageURL))

	page, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, &domain.AcquisitionError{Reason: domain.ReasonListingUnavailable, URL: pageURL, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.body))
	if err != nil {
		return nil, &domain.AcquisitionError{Reason: domain.ReasonListingUnavailable, URL: pageURL, Err: err}
	}

	section := doc.Find("section#documents")
	if section.Length() == 0 {
		return nil, &domain.AcquisitionError{Reason: domain.ReasonSectionNotFound, URL: pageURL}
	}

	links := section.Find("a[href]")
	listing := &Listing{
		Reports:     s.pickLinks(links.Slice(0, min(links.Length(), quarters*2)), reportKeywords, domain.KindReport, quarters),
		Transcripts: s.pickLinks(links, transcriptKeywords, domain.KindTranscript, quarters),
	}
	if listing.Len() == 0 {
		return nil, &domain.AcquisitionError{Reason: domain.ReasonNoMatchingLinks, URL: pageURL}
	}

	logger.Info("Document listing parsed",
		zap.String("company", company),
		zap.Int("reports", len(listing.Reports)),
		zap.Int("transcripts", len(listing.Transcripts)),
	)

	return listing, nil
}

func (s *Scraper) pickLinks(links *goquery.Selection, keywords []string, kind domain.DocumentKind, limit int) []domain.RawDocument {
	docs := make([]domain.RawDocument, 0, limit)
	links.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if len(docs) >= limit {
			return false
		}
		title := strings.Join(strings.Fields(a.Text()), " ")
		if !containsAny(strings.ToLower(title), keywords) {
			return true
		}
		href, _ := a.Attr("href")
		docs = append(docs, domain.RawDocument{
			Title: title,
			URL:   s.absolute(href),
			Kind:  kind,
		})
		return true
	})
	return docs
}

func (s *Scraper) absolute(href string) string {
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return s.baseURL + href
	}
	return href
}

// FetchText downloads the document and returns its plain text.
func (s *Scraper) FetchText(ctx context.Context, d domain.RawDocument) (string, error) {
	logger.Debug("Downloading document", zap.String("title", d.Title), zap.String("url", d.URL))

	page, err := s.fetch(ctx, d.URL)
	if err != nil {
		return "", &domain.AcquisitionError{Reason: domain.ReasonFetchFailed, Title: d.Title, URL: d.URL, Err: err}
	}

	var text string
	switch {
	case isPDF(page.contentType, d.URL):
		text, err = ExtractPDFText(page.body)
	case isHTML(page.contentType):
		text, err = ExtractHTMLText(page.body)
	default:
		err = fmt.Errorf("content type %q", page.contentType)
		return "", &domain.AcquisitionError{Reason: domain.ReasonUnsupportedContent, Title: d.Title, URL: d.URL, Err: err}
	}
	if err != nil {
		return "", &domain.AcquisitionError{Reason: domain.ReasonUnsupportedContent, Title: d.Title, URL: d.URL, Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &domain.AcquisitionError{Reason: domain.ReasonEmptyText, Title: d.Title, URL: d.URL}
	}
	return text, nil
}

type page struct {
	body        []byte
	contentType string
}

func (s *Scraper) fetch(ctx context.Context, target string) (*page, error) {
	return circuitbreaker.ExecuteWithResult(ctx, s.cb, func() (*page, error) {
		return retry.DoWithResult(ctx, s.retryConfig, func() (*page, error) {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, retry.Permanent(err)
			}
			return s.get(ctx, target)
		})
	})
}

func (s *Scraper) get(ctx context.Context, target string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &statusError{code: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &page{
		body:        body,
		contentType: strings.ToLower(resp.Header.Get("Content-Type")),
	}, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func retryableFetch(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if retry.IsPermanent(err) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

func isPDF(contentType, target string) bool {
	if strings.Contains(contentType, "pdf") {
		return true
	}
	if u, err := url.Parse(target); err == nil {
		return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
	}
	return false
}

func isHTML(contentType string) bool {
	return contentType == "" || strings.Contains(contentType, "html") || strings.HasPrefix(contentType, "text/")
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
