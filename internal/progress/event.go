package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobPaused    Stage = "JOB_PAUSED"
	StageJobCancelled Stage = "JOB_CANCELLED"
	StageURLDone      Stage = "URL_DONE"
	StageAnalysisDone Stage = "ANALYSIS_DONE"
)

// Event captures one unit of crawl progress.
type Event struct {
	// JobID identifies the job run.
	JobID string `json:"job_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage is the lifecycle or per-URL milestone that occurred.
	Stage Stage `json:"stage"`
	// Site optionally scopes URL events to a host label.
	Site string `json:"site,omitempty"`
	// URL is the page the event refers to, when stage is URL scoped.
	URL string `json:"url,omitempty"`
	// FetchStatus carries the fetch outcome taxonomy for URL_DONE.
	FetchStatus string `json:"fetch_status,omitempty"`
	// Bytes is the response size for the fetch.
	Bytes int64 `json:"bytes,omitempty"`
	// Strategy names the analysis that ran, for ANALYSIS_DONE.
	Strategy string `json:"strategy,omitempty"`
	// Mappings counts persona mappings written by the analysis.
	Mappings int `json:"mappings,omitempty"`
	// Dur captures wall time for fetches and settled jobs.
	Dur time.Duration `json:"dur,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobPaused, StageJobCancelled:
	case StageURLDone:
		if e.URL == "" {
			return errors.New("url done requires url")
		}
		if e.FetchStatus == "" {
			return errors.New("url done requires fetch status")
		}
	case StageAnalysisDone:
		if e.URL == "" {
			return errors.New("analysis done requires url")
		}
		if e.Strategy == "" {
			return errors.New("analysis done requires strategy")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
