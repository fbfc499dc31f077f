// Package scrapingbee implements crawler.ProviderClient against the ScrapingBee HTTP API using gocolly.
package scrapingbee

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/tierfetch/internal/crawler"
	"github.com/JakeFAU/tierfetch/internal/logging"
)

// DefaultBaseURL is the public ScrapingBee endpoint.
const DefaultBaseURL = "https://app.scrapingbee.com/api/v1/"

// CostHeader carries the credits the provider billed for a call.
const CostHeader = "Spb-Cost"

// ForwardedHeaderPrefix marks caller headers the provider should forward to the target.
const ForwardedHeaderPrefix = "Spb-"

const (
	defaultTimeout = 30 * time.Second
	messageLimit   = 256
)

// Config controls how the client reaches the provider.
type Config struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// MaxBytes is the payload cap; bodies are read up to MaxBytes+1.
	MaxBytes int
}

// Client performs one provider call per Fetch.
type Client struct {
	cfg           Config
	baseURL       *url.URL
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = crawler.MaxContentBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base url %q", cfg.BaseURL)
	}

	options := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBytes + 1),
	}
	if cfg.UserAgent != "" {
		options = append(options, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(options...)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Client{
		cfg:           cfg,
		baseURL:       base,
		baseCollector: c,
		logger:        logger.Named("scrapingbee"),
	}, nil
}

// Fetch executes a single provider call for request at tier.
// Non-2xx statuses return the response alongside a classified *crawler.FetchError.
func (c *Client) Fetch(ctx context.Context, request crawler.FetchRequest, tier crawler.Tier) (crawler.ProviderResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		result   crawler.ProviderResponse
		fetchErr error
	)
	start := time.Now()
	collector := c.baseCollector.Clone()
	collector.Context = attemptCtx
	c.configureCollectorHooks(collector, request, tier, start, &result, &fetchErr)

	target := c.providerURL(request, tier)
	if err := c.runCollector(ctx, attemptCtx, collector, target, &fetchErr); err != nil {
		c.logger.Debug("provider call failed",
			zap.String("url", request.URL),
			zap.String("tier", string(tier)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return crawler.ProviderResponse{Tier: tier, URL: request.URL, Duration: time.Since(start)}, err
	}

	c.logger.Debug("provider call complete",
		zap.String("url", request.URL),
		zap.String("tier", string(tier)),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
		zap.Int("cost", result.ProviderCost),
		zap.Duration("duration", result.Duration),
	)
	return result, classifyStatus(result)
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	tier crawler.Tier,
	start time.Time,
	result *crawler.ProviderResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyForwardedHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		restoreContentType(headers)
		cost, _ := strconv.Atoi(strings.TrimSpace(headers.Get(CostHeader)))
		*result = crawler.ProviderResponse{
			URL:          request.URL,
			StatusCode:   r.StatusCode,
			Headers:      headers,
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
			Tier:         tier,
			ProviderCost: cost,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (c *Client) runCollector(
	ctx, attemptCtx context.Context,
	collector *colly.Collector,
	target string,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-attemptCtx.Done():
		return contextError(ctx)
	case err := <-done:
		if err == nil {
			err = *fetchErr
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return contextError(ctx)
		}
		return crawler.WrapError(crawler.ErrorKindNetwork, logging.RedactError(err, c.cfg.APIKey), "provider request failed")
	}
}

// contextError distinguishes the caller giving up from the attempt timing out.
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return crawler.WrapError(crawler.ErrorKindTimeout, err, "request deadline exceeded")
	}
	return crawler.WrapError(crawler.ErrorKindNetwork, context.DeadlineExceeded, "provider attempt timed out")
}

func (c *Client) providerURL(request crawler.FetchRequest, tier crawler.Tier) string {
	u := *c.baseURL
	u.RawQuery = Params(request, tier, c.cfg.APIKey).Encode()
	return u.String()
}

// Params translates request and tier into provider query parameters.
func Params(request crawler.FetchRequest, tier crawler.Tier, apiKey string) url.Values {
	v := url.Values{}
	v.Set("api_key", apiKey)
	v.Set("url", request.URL)

	renderJS := request.RenderJS
	switch tier {
	case crawler.TierPremium:
		v.Set("premium_proxy", "true")
	case crawler.TierStealth:
		v.Set("stealth_proxy", "true")
		renderJS = true
	case crawler.TierCustom:
		v.Set("own_proxy", request.CustomProxyURI)
	}
	v.Set("render_js", strconv.FormatBool(renderJS))

	if request.WaitMs > 0 {
		v.Set("wait", strconv.Itoa(request.WaitMs))
	}
	if request.CountryCode != "" && (tier == crawler.TierPremium || tier == crawler.TierStealth) {
		v.Set("country_code", strings.ToLower(request.CountryCode))
	}
	if request.WindowWidth > 0 {
		v.Set("window_width", strconv.Itoa(request.WindowWidth))
	}
	if request.WindowHeight > 0 {
		v.Set("window_height", strconv.Itoa(request.WindowHeight))
	}
	if request.ForwardHeaders {
		v.Set("forward_headers", "true")
	}
	if request.ForwardHeadersPure {
		v.Set("forward_headers_pure", "true")
	}
	if request.BlockAds {
		v.Set("block_ads", "true")
	}
	v.Set("block_resources", strconv.FormatBool(request.BlockResources))
	if request.DownloadFile {
		v.Set("download_file", "true")
	}
	return v
}

func copyForwardedHeaders(request crawler.FetchRequest, r *colly.Request) {
	if !request.ForwardHeaders && !request.ForwardHeadersPure {
		return
	}
	for key, value := range request.Headers {
		r.Headers.Set(ForwardedHeaderPrefix+key, value)
	}
}

func classifyStatus(resp crawler.ProviderResponse) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	var kind crawler.ErrorKind
	switch code {
	case http.StatusUnauthorized:
		kind = crawler.ErrorKindUnauthorized
	case http.StatusTooManyRequests:
		kind = crawler.ErrorKindRateLimited
	default:
		kind = crawler.ErrorKindGeneric
	}
	return &crawler.FetchError{
		Kind:       kind,
		StatusCode: code,
		Message:    fmt.Sprintf("provider returned %d: %s", code, bodySnippet(resp.Body)),
	}
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > messageLimit {
		s = s[:messageLimit]
	}
	if s == "" {
		return "empty body"
	}
	return s
}
