package forecast

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/louisPoulain/ai-models-fourcastnetv2/internal/observability"
)

// Stepper reports progress of an autoregressive run.
type Stepper struct {
	total   int
	clock   clockwork.Clock
	start   time.Time
	last    time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewStepper starts timing a run of total steps.
func NewStepper(total int, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Stepper {
	now := clock.Now()
	return &Stepper{
		total:   total,
		clock:   clock,
		start:   now,
		last:    now,
		logger:  logger,
		metrics: metrics,
	}
}

// Step records the completion of zero-based step i reaching hours of lead time.
func (s *Stepper) Step(i, hours int) {
	now := s.clock.Now()
	s.metrics.StepDuration.Observe(now.Sub(s.last).Seconds())
	s.metrics.StepsCompleted.Inc()
	s.last = now

	done := i + 1
	elapsed := now.Sub(s.start)
	eta := time.Duration(0)
	if done < s.total {
		eta = elapsed / time.Duration(done) * time.Duration(s.total-done)
	}
	s.logger.Info("forecast step",
		"step", done,
		"of", s.total,
		"hours", hours,
		"elapsed", elapsed.Round(time.Millisecond),
		"eta", eta.Round(time.Second),
	)
}

// Done records the total run duration and returns it.
func (s *Stepper) Done() time.Duration {
	elapsed := s.clock.Since(s.start)
	s.metrics.ForecastDuration.Observe(elapsed.Seconds())
	return elapsed
}
