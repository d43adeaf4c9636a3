package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// statsTimeout bounds how long the stats job waits on a busy event loop
const statsTimeout = 5 * time.Second

// InitializeSchedules starts the periodic stats job. An interval of zero
// or less disables it and returns nil.
func (s *Scheduler) InitializeSchedules(intervalMinutes int) *cron.Cron {
	if intervalMinutes <= 0 {
		Logger.Info("Stats schedule disabled")
		return nil
	}
	c := cron.New()
	var statsJob cron.Job
	statsJob = cron.FuncJob(s.logStats)
	statsJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(statsJob) //don't stack up behind a stalled loop
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", intervalMinutes), statsJob); err != nil {
		Logger.Error("Unable to add stats job", "error", err)
		return nil
	}
	Logger.Info("Adding stats job scheduler", "interval_minutes", intervalMinutes)
	c.Start()
	return c
}

func (s *Scheduler) logStats() {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	stats, err := s.Stats(ctx)
	if err != nil {
		Logger.Warn("Unable to collect render stats", "error", err)
		return
	}
	Logger.Info("Render stats",
		"pages", stats.PageCount,
		"rendering", stats.Rendering,
		"pending", stats.Pending,
		"activePage", stats.Active.PageNumber,
		"activeZoom", stats.Active.ZoomFactor,
		"cached", stats.Cache.Len,
		"hits", stats.Cache.Hits,
		"misses", stats.Cache.Misses,
		"evictions", stats.Cache.Evictions,
		"runs", stats.Runs,
		"failures", stats.Failures,
		"cancellations", stats.Cancellations)
}
