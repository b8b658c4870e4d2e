package main

import (
	"go.uber.org/zap"

	"github.com/aristath/distrogate/internal/events"
)

// logEvents logs action output and sub-stage results until sub is closed.
// Stage transitions are logged by the runner itself. The returned channel
// closes when sub is drained.
func logEvents(sub <-chan events.Event, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			switch e := ev.(type) {
			case events.StageOutputEvent:
				logger.Debug(e.Line, zap.String("stage", e.ID), zap.String("option", e.Option))
			case events.SubStageFinishedEvent:
				if e.Err != nil {
					logger.Error("test action failed",
						zap.String("stage", e.ID),
						zap.String("option", e.Option),
						zap.Duration("duration", e.Duration),
						zap.Error(e.Err))
					continue
				}
				logger.Info("test action passed",
					zap.String("stage", e.ID),
					zap.String("option", e.Option),
					zap.Duration("duration", e.Duration))
			}
		}
	}()
	return done
}
