package crawler

import (
	"net/http"
	"time"
)

// Tier names a proxy strategy offered by the scraping provider.
type Tier string

// Supported proxy tiers, ordered by cost.
const (
	TierNone    Tier = "none"
	TierPremium Tier = "premium"
	TierStealth Tier = "stealth"
	TierCustom  Tier = "custom"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierNone, TierPremium, TierStealth, TierCustom:
		return true
	default:
		return false
	}
}

// MaxContentBytes is the largest payload a FetchResult may carry.
const MaxContentBytes = 2 * 1024 * 1024

// FetchRequest captures every provider option a caller may set for one fetch.
type FetchRequest struct {
	URL                string            `json:"url" mapstructure:"url"`
	RenderJS           bool              `json:"render_js" mapstructure:"render_js"`
	WaitMs             int               `json:"wait_ms" mapstructure:"wait_ms"`
	ProxyTier          Tier              `json:"proxy_tier" mapstructure:"proxy_tier"`
	ForceMode          Tier              `json:"force_mode,omitempty" mapstructure:"force_mode"`
	CustomProxyURI     string            `json:"custom_proxy_uri,omitempty" mapstructure:"custom_proxy_uri"`
	CountryCode        string            `json:"country_code,omitempty" mapstructure:"country_code"`
	WindowWidth        int               `json:"window_width,omitempty" mapstructure:"window_width"`
	WindowHeight       int               `json:"window_height,omitempty" mapstructure:"window_height"`
	ForwardHeaders     bool              `json:"forward_headers" mapstructure:"forward_headers"`
	ForwardHeadersPure bool              `json:"forward_headers_pure" mapstructure:"forward_headers_pure"`
	DownloadFile       bool              `json:"download_file" mapstructure:"download_file"`
	BlockAds           bool              `json:"block_ads" mapstructure:"block_ads"`
	BlockResources     bool              `json:"block_resources" mapstructure:"block_resources"`
	Headers            map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	ContentType        string            `json:"content_type,omitempty" mapstructure:"content_type"`
}

// EffectiveTier is the tier the caller asked for, defaulting to none.
func (r FetchRequest) EffectiveTier() Tier {
	if r.ProxyTier == "" {
		return TierNone
	}
	return r.ProxyTier
}

// Category buckets fetched content by file family.
type Category string

// Content categories recognized by the normalizer.
const (
	CategoryHTML     Category = "html"
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryText     Category = "text"
	CategoryArchive  Category = "archive"
	CategoryUnknown  Category = "unknown"
)

// ProviderResponse is the raw outcome of a single provider call.
type ProviderResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	Tier         Tier
	ProviderCost int
}

// Attempt records one provider call made while serving a request.
type Attempt struct {
	Tier        Tier      `json:"tier"`
	StatusCode  int       `json:"status_code,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	CostCredits int       `json:"cost_credits"`
	DurationMs  int64     `json:"duration_ms"`
	Retry       bool      `json:"retry,omitempty"`
}

// FetchResult is the terminal outcome returned to callers.
type FetchResult struct {
	RequestID      string    `json:"request_id"`
	URL            string    `json:"url"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"status_code,omitempty"`
	Text           string    `json:"content,omitempty"`
	Binary         []byte    `json:"binary,omitempty"`
	ContentType    string    `json:"content_type,omitempty"`
	Category       Category  `json:"category,omitempty"`
	SizeBytes      int       `json:"size_bytes"`
	DocumentsFound int       `json:"documents_found"`
	TierUsed       Tier      `json:"tier_used,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	Message        string    `json:"message,omitempty"`
	Attempts       []Attempt `json:"attempts,omitempty"`
	FromCache      bool      `json:"from_cache,omitempty"`
	// RenderSuggested marks unrendered HTML that looks like a JavaScript shell.
	RenderSuggested bool      `json:"render_suggested,omitempty"`
	Fingerprint     string    `json:"fingerprint,omitempty"`
	ProviderCost    int       `json:"provider_cost,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// IsBinary reports whether the payload is carried as raw bytes.
func (r FetchResult) IsBinary() bool {
	return r.Binary != nil
}

// UsageStats is a point-in-time view of provider usage.
type UsageStats struct {
	Requests             int64 `json:"requests"`
	Successes            int64 `json:"successes"`
	Failures             int64 `json:"failures"`
	EstimatedCostCredits int64 `json:"estimated_cost_credits"`
}

// AttemptRecord is persisted for each provider call.
type AttemptRecord struct {
	ID          string
	RequestID   string
	URL         string
	Tier        Tier
	Sequence    int
	StatusCode  int
	ErrorKind   ErrorKind
	CostCredits int
	DurationMs  int64
	AttemptedAt time.Time
}

// JobStatus represents the lifecycle state of a batch job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Job represents the metadata persisted for each submitted batch.
type Job struct {
	ID        string         `json:"id"`
	Status    JobStatus      `json:"status"`
	Submitted time.Time      `json:"submitted_at"`
	Started   *time.Time     `json:"started_at,omitempty"`
	Finished  *time.Time     `json:"finished_at,omitempty"`
	ErrorText string         `json:"error_text,omitempty"`
	Requests  []FetchRequest `json:"requests"`
	Counters  JobCounters    `json:"counters"`
}

// JobCounters tracks success/failure stats per job.
type JobCounters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job     Job           `json:"job"`
	Results []FetchResult `json:"results"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Requests  []FetchRequest
	Attempt   int
	Submitted int64
}
