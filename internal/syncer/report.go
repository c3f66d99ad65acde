package syncer

import (
	"slices"
	"time"

	"github.com/terra-clan/mission-bot/internal/notify"
)

// Outcome is the final state of a mission within a tick
type Outcome string

const (
	OutcomePublished    Outcome = "published"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
	OutcomeInconsistent Outcome = "inconsistent"
)

// Result records what happened to one mission
type Result struct {
	MissionID string   `json:"mission_id"`
	Title     string   `json:"title,omitempty"`
	Outcome   Outcome  `json:"outcome"`
	Ref       string   `json:"ref,omitempty"`
	Error     string   `json:"error,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Report summarizes one tick
type Report struct {
	TickID       string        `json:"tick_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Fetched      int           `json:"fetched"`
	Published    int           `json:"published"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Inconsistent int           `json:"inconsistent"`
	FetchError   string        `json:"fetch_error,omitempty"`
	Results      []Result      `json:"results"`
}

func (r *Report) tally() {
	r.Published, r.Skipped, r.Failed, r.Inconsistent = 0, 0, 0, 0
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomePublished:
			r.Published++
		case OutcomeSkipped:
			r.Skipped++
		case OutcomeFailed:
			r.Failed++
		case OutcomeInconsistent:
			r.Inconsistent++
		}
	}
}

// Result returns the entry for a mission, if the tick processed it
func (r *Report) Result(missionID string) (Result, bool) {
	for _, res := range r.Results {
		if res.MissionID == missionID {
			return res, true
		}
	}
	return Result{}, false
}

// Summary converts the counters into a notifier payload
func (r *Report) Summary() *notify.TickSummary {
	return &notify.TickSummary{
		Fetched:      r.Fetched,
		Published:    r.Published,
		Skipped:      r.Skipped,
		Failed:       r.Failed,
		Inconsistent: r.Inconsistent,
		FetchError:   r.FetchError,
		DurationMs:   r.Duration.Milliseconds(),
	}
}

// Clone returns a deep copy
func (r *Report) Clone() *Report {
	c := *r
	c.Results = make([]Result, len(r.Results))
	for i, res := range r.Results {
		res.Warnings = slices.Clone(res.Warnings)
		c.Results[i] = res
	}
	return &c
}
