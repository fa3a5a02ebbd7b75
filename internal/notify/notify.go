// Package notify delivers crawl failure and price change alerts over log,
// email and Pub/Sub channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nalpari/jppc/internal/crawler"
)

// Multi fans one alert out to every notifier and joins their errors.
type Multi []crawler.Notifier

// NotifyCrawlFailure calls every notifier, even after a failure.
func (m Multi) NotifyCrawlFailure(ctx context.Context, sourceName, msg string, at time.Time) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyCrawlFailure(ctx, sourceName, msg, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyPriceChange calls every notifier, even after a failure.
func (m Multi) NotifyPriceChange(ctx context.Context, sourceName string, changes []crawler.PriceChange, at time.Time) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyPriceChange(ctx, sourceName, changes, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var printer = message.NewPrinter(language.Japanese)

func formatYen(v *float64) string {
	if v == nil {
		return "-"
	}
	return printer.Sprintf("¥%.2f", *v)
}

func formatPercent(v *float64) string {
	if v == nil {
		return "-"
	}
	if *v > 0 {
		return fmt.Sprintf("+%.1f%%", *v)
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func formatTime(t time.Time) string {
	return t.Format(time.DateTime)
}

// changeLines renders one line per change: plan, field, old -> new (pct).
func changeLines(changes []crawler.PriceChange) string {
	var b strings.Builder
	for _, c := range changes {
		name := c.PlanName
		if name == "" {
			name = c.PlanCode
		}
		fmt.Fprintf(&b, "- %s %s: %s -> %s (%s)\n",
			name, c.Field, formatYen(c.OldValue), formatYen(c.NewValue), formatPercent(c.PercentChange))
	}
	return b.String()
}
