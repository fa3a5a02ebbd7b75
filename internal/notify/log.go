package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/crawler"
)

// Log writes alerts to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a log notifier; a nil logger discards output.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("alerts")}
}

// NotifyCrawlFailure logs the failure at error level.
func (l *Log) NotifyCrawlFailure(_ context.Context, sourceName, msg string, at time.Time) error {
	l.logger.Error("crawl failed",
		zap.String("source", sourceName),
		zap.String("error", msg),
		zap.Time("at", at))
	return nil
}

// NotifyPriceChange logs one warning per change.
func (l *Log) NotifyPriceChange(_ context.Context, sourceName string, changes []crawler.PriceChange, at time.Time) error {
	for _, c := range changes {
		fields := []zap.Field{
			zap.String("source", sourceName),
			zap.String("plan_code", c.PlanCode),
			zap.String("field", c.Field),
			zap.Time("at", at),
		}
		if c.OldValue != nil {
			fields = append(fields, zap.Float64("old", *c.OldValue))
		}
		if c.NewValue != nil {
			fields = append(fields, zap.Float64("new", *c.NewValue))
		}
		if c.PercentChange != nil {
			fields = append(fields, zap.Float64("percent", *c.PercentChange))
		}
		l.logger.Warn("price changed", fields...)
	}
	return nil
}
