// Package resync schedules periodic full reloads of a conversation. A
// scheduled reload repairs the drift left by dropped update events for
// messages that were never loaded locally.
package resync

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"convsync/pkg/logger"
	"convsync/pkg/ops"
)

// Start validates cronExpr and launches the scheduler goroutine, calling
// reload at each tick until ctx is canceled. An empty expression defaults
// to every five minutes. Returns a cancel func.
func Start(ctx context.Context, cronExpr string, reload func(context.Context) error) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = "*/5 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid resync cron expression: %s", cronExpr)
	}
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, reload)
	logger.Info("resync_scheduler_started", "cron", cronExpr)
	return cancel, nil
}

// runScheduler computes the next tick for the cron expression and sleeps
// until then.
func runScheduler(ctx context.Context, cronExpr string, reload func(context.Context) error) {
	for {
		next, err := gronx.NextTick(cronExpr, false)
		if err != nil {
			logger.Error("resync_next_tick_failed", "cron", cronExpr, "err", err)
			return
		}
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := reload(ctx); err != nil {
			ops.ResyncRuns.WithLabelValues("failure").Inc()
			logger.Warn("resync_run_failed", "err", err)
			continue
		}
		ops.ResyncRuns.WithLabelValues("success").Inc()
		logger.Debug("resync_run_ok")
	}
}
