// Package crawl defines core types shared across the pipeline.
package crawl

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status will never run again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// AnalysisMode selects which matcher strategy a job uses.
type AnalysisMode string

// Analysis modes accepted at job submission.
const (
	ModeKeyword    AnalysisMode = "keyword"
	ModeLocal      AnalysisMode = "local"
	ModeLLM        AnalysisMode = "llm"
	ModeHybrid     AnalysisMode = "hybrid"
	ModeValidation AnalysisMode = "validation"
)

// JobParameters captures per-job configuration knobs requested by the client.
type JobParameters struct {
	RootURL         string       `json:"root_url"`
	SeedURLs        []string     `json:"seed_urls,omitempty"`
	IncludePatterns []string     `json:"include_patterns,omitempty"`
	ExcludePatterns []string     `json:"exclude_patterns,omitempty"`
	MaxPages        int          `json:"max_pages"`
	Concurrency     int          `json:"concurrency"`
	DelayMs         int          `json:"delay_ms"`
	AnalysisMode    AnalysisMode `json:"analysis_mode"`
	OrgID           string       `json:"org_id"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job progress stats.
type JobCounters struct {
	PagesSucceeded  int `json:"pages_succeeded"`
	PagesFailed     int `json:"pages_failed"`
	PagesSkipped    int `json:"pages_skipped"`
	Retries         int `json:"retries"`
	MappingsCreated int `json:"mappings_created"`
}

// URLStatus is the per-frontier-entry processing state.
type URLStatus string

// Frontier entry states. A URL moves pending -> in_progress and from there
// to succeeded, failed, retrying or skipped; retrying returns to in_progress
// on the next attempt.
const (
	URLStatusPending    URLStatus = "pending"
	URLStatusInProgress URLStatus = "in_progress"
	URLStatusSucceeded  URLStatus = "succeeded"
	URLStatusFailed     URLStatus = "failed"
	URLStatusRetrying   URLStatus = "retrying"
	URLStatusSkipped    URLStatus = "skipped"
)

// DiscoverySource records how a frontier URL was found.
type DiscoverySource string

// Discovery sources.
const (
	SourceSeed    DiscoverySource = "seed"
	SourceSitemap DiscoverySource = "sitemap"
	SourceLink    DiscoverySource = "link"
)

// CrawlURL is one frontier entry. Entries are never deleted; they remain as
// an audit trail after the owning job finishes.
type CrawlURL struct {
	JobID         string          `json:"job_id"`
	URL           string          `json:"url"`
	Source        DiscoverySource `json:"source"`
	Status        URLStatus       `json:"status"`
	Attempts      int             `json:"attempts"`
	LastErrorKind ErrorKind       `json:"last_error_kind,omitempty"`
	LastAttempt   *time.Time      `json:"last_attempt_at,omitempty"`
}

// Page is the fetched and extracted content snapshot for a CrawlURL.
// Immutable once written; a re-crawl creates a new snapshot only when the
// content hash differs.
type Page struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	WordCount   int       `json:"word_count"`
	ContentHash string    `json:"content_hash"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// FetchStatus classifies the outcome of one fetch attempt.
type FetchStatus string

// Fetch outcome taxonomy.
const (
	FetchSuccess         FetchStatus = "success"
	FetchClientError     FetchStatus = "client_error"
	FetchServerError     FetchStatus = "server_error"
	FetchTimeout         FetchStatus = "timeout"
	FetchConnectionError FetchStatus = "connection_error"
	FetchRobotsDenied    FetchStatus = "robots_denied"
)

// ErrorKind is the persisted diagnostic category for a failed URL.
type ErrorKind string

// Error kinds stored on CrawlURL entries.
const (
	ErrKindNone       ErrorKind = ""
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindConnection ErrorKind = "connection_error"
	ErrKindHTTPClient ErrorKind = "client_error"
	ErrKindHTTPServer ErrorKind = "server_error"
	ErrKindRobots     ErrorKind = "robots_denied"
	ErrKindMalformed  ErrorKind = "malformed_url"
	ErrKindExtract    ErrorKind = "extract_error"
)

// QueueItem is one unit of runner work: a job ready to crawl.
type QueueItem struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID string
	URL   string
}

// FetchResult is the outcome of one fetch, successful or not.
type FetchResult struct {
	URL        string
	Status     FetchStatus
	HTTPStatus int
	Body       []byte
	Duration   time.Duration
}

// Retryable reports whether the fetch outcome is transient.
func (r FetchResult) Retryable() bool {
	switch r.Status {
	case FetchTimeout, FetchConnectionError, FetchServerError:
		return true
	default:
		return false
	}
}

// ErrorKind maps the fetch status into the persisted error taxonomy.
func (r FetchResult) ErrorKind() ErrorKind {
	switch r.Status {
	case FetchTimeout:
		return ErrKindTimeout
	case FetchConnectionError:
		return ErrKindConnection
	case FetchClientError:
		return ErrKindHTTPClient
	case FetchServerError:
		return ErrKindHTTPServer
	case FetchRobotsDenied:
		return ErrKindRobots
	default:
		return ErrKindNone
	}
}
