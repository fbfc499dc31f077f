package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageJobStart  Stage = "JOB_START"
	StageFetchDone Stage = "FETCH_DONE"
	StageJobDone   Stage = "JOB_DONE"
	StageJobError  Stage = "JOB_ERROR"
)

// Event captures one step of batch job progress.
type Event struct {
	// JobID identifies the batch job.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site scopes fetch events to a host label.
	Site string
	URL  string
	// Tier is the proxy tier that produced the final fetch outcome.
	Tier crawler.Tier
	// ErrorKind is empty for successful fetches.
	ErrorKind crawler.ErrorKind
	// Credits is the estimated cost of every attempt made for the fetch.
	Credits int64
	Bytes   int64
	// FromCache marks fetches served without a provider call.
	FromCache bool
	// Dur is the fetch latency or, for job completions, the job wall time.
	Dur time.Duration
	// Note carries low-volume context such as the final error text.
	Note string
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
	case StageJobStart, StageJobDone, StageJobError:
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Credits < 0 {
		return errors.New("credits must be >= 0")
	}
	return nil
}

// Outcome labels a fetch event as "success" or its error kind.
func (e Event) Outcome() string {
	if e.ErrorKind == "" {
		return "success"
	}
	return string(e.ErrorKind)
}

// FetchEvent summarizes a terminal fetch result for a job.
func FetchEvent(jobID string, ts time.Time, site string, result crawler.FetchResult, dur time.Duration) Event {
	var credits int64
	for _, a := range result.Attempts {
		credits += int64(a.CostCredits)
	}
	return Event{
		JobID:     jobID,
		TS:        ts,
		Stage:     StageFetchDone,
		Site:      site,
		URL:       result.URL,
		Tier:      result.TierUsed,
		ErrorKind: result.ErrorKind,
		Credits:   credits,
		Bytes:     int64(result.SizeBytes),
		FromCache: result.FromCache,
		Dur:       dur,
		Note:      result.Message,
	}
}
