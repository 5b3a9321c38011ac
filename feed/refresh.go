package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Refresher re-imports the current semester's feed on a cron schedule.
type Refresher struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRefresher schedules imp.Refresh for the semester containing the wall
// clock at each tick. spec is a standard 5-field cron expression.
func NewRefresher(spec string, imp *Importer, timeout time.Duration, logger *slog.Logger) (*Refresher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		semester := CurrentSemester(time.Now())
		if err := imp.Refresh(ctx, semester); err != nil {
			logger.Error("feed refresh failed", "semester", semester.String(), "err", err)
		}
	})
	if err != nil {
		return nil, err
	}

	return &Refresher{cron: c, logger: logger}, nil
}

// Start begins running the schedule in its own goroutine.
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop cancels the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
