package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/frontier"
)

// RecomputeJob traces the frontier for the configured universe on a schedule
// and keeps the most recent result available for the latest endpoint.
type RecomputeJob struct {
	service *frontier.Service
	log     zerolog.Logger

	mu     sync.RWMutex
	latest *frontier.Result
}

// NewRecomputeJob creates the periodic frontier recompute job.
func NewRecomputeJob(service *frontier.Service, log zerolog.Logger) *RecomputeJob {
	return &RecomputeJob{
		service: service,
		log:     log.With().Str("job", "frontier_recompute").Logger(),
	}
}

// Name implements Job.
func (j *RecomputeJob) Name() string { return "frontier_recompute" }

// Run traces the frontier over the default universe. A failed run keeps the
// previous result in place.
func (j *RecomputeJob) Run() error {
	result, err := j.service.Trace(context.Background(), frontier.Request{})
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.latest = result
	j.mu.Unlock()

	j.log.Info().
		Str("run_id", result.RunID.String()).
		Int("points", len(result.Points)).
		Msg("Frontier recomputed")
	return nil
}

// Latest returns the most recent successful trace.
func (j *RecomputeJob) Latest() (*frontier.Result, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.latest == nil {
		return nil, false
	}
	return j.latest, true
}
