package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nalpari/jppc/internal/crawler"
)

var alertTime = time.Date(2024, 4, 1, 2, 0, 0, 0, time.UTC)

func sampleChanges() []crawler.PriceChange {
	return []crawler.PriceChange{{
		PlanCode:      "tepco_metered_b",
		PlanName:      "従量電灯B",
		Field:         "unit_prices.tier3_over_300",
		OldValue:      crawler.Float(40.49),
		NewValue:      crawler.Float(50.00),
		PercentChange: crawler.Float(23.49),
	}}
}

type recordingNotifier struct {
	failures, changes int
	err               error
}

func (r *recordingNotifier) NotifyCrawlFailure(context.Context, string, string, time.Time) error {
	r.failures++
	return r.err
}

func (r *recordingNotifier) NotifyPriceChange(context.Context, string, []crawler.PriceChange, time.Time) error {
	r.changes++
	return r.err
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	t.Parallel()

	first := &recordingNotifier{err: errors.New("smtp down")}
	second := &recordingNotifier{}
	multi := Multi{first, second}

	err := multi.NotifyCrawlFailure(context.Background(), "関西電力", "boom", alertTime)
	require.ErrorContains(t, err, "smtp down")
	require.NoError(t, Multi{second}.NotifyPriceChange(context.Background(), "関西電力", sampleChanges(), alertTime))
	require.Equal(t, 1, first.failures)
	require.Equal(t, 1, second.failures)
	require.Equal(t, 1, second.changes)
}

func TestFormatting(t *testing.T) {
	t.Parallel()

	require.Equal(t, "¥1,234.50", formatYen(crawler.Float(1234.5)))
	require.Equal(t, "-", formatYen(nil))
	require.Equal(t, "+23.5%", formatPercent(crawler.Float(23.49)))
	require.Equal(t, "-4.7%", formatPercent(crawler.Float(-4.73)))
	require.Equal(t, "-", formatPercent(nil))
	require.Equal(t,
		"- 従量電灯B unit_prices.tier3_over_300: ¥40.49 -> ¥50.00 (+23.5%)\n",
		changeLines(sampleChanges()))
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	n := NewLog(zap.New(core))

	require.NoError(t, n.NotifyCrawlFailure(context.Background(), "中国電力", "extraction: boom", alertTime))
	require.NoError(t, n.NotifyPriceChange(context.Background(), "中国電力", sampleChanges(), alertTime))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "crawl failed", entries[0].Message)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "price changed", entries[1].Message)
	require.Equal(t, "unit_prices.tier3_over_300", entries[1].ContextMap()["field"])
}

type sentMail struct {
	mail *email.Email
	addr string
	auth smtp.Auth
}

func newTestEmail(t *testing.T, cfg EmailConfig, results ...error) (*Email, *[]sentMail) {
	t.Helper()
	n, err := NewEmail(cfg)
	require.NoError(t, err)
	var sent []sentMail
	n.send = func(e *email.Email, addr string, a smtp.Auth) error {
		sent = append(sent, sentMail{mail: e, addr: addr, auth: a})
		if len(results) == 0 {
			return nil
		}
		err := results[0]
		results = results[1:]
		return err
	}
	return n, &sent
}

func TestNewEmailValidates(t *testing.T) {
	t.Parallel()

	_, err := NewEmail(EmailConfig{Recipients: []string{"ops@example.com"}})
	require.Error(t, err)
	_, err = NewEmail(EmailConfig{Host: "smtp.example.com"})
	require.Error(t, err)
}

func TestEmailCrawlFailure(t *testing.T) {
	t.Parallel()

	n, sent := newTestEmail(t, EmailConfig{
		Host:       "smtp.example.com",
		Username:   "alerts@example.com",
		Password:   "secret",
		Recipients: []string{"ops@example.com"},
	})

	require.NoError(t, n.NotifyCrawlFailure(context.Background(), "東京電力エナジーパートナー", "transient_fetch: timeout", alertTime))
	require.Len(t, *sent, 1)
	got := (*sent)[0]
	require.Equal(t, "smtp.example.com:587", got.addr)
	require.NotNil(t, got.auth)
	require.Equal(t, "[JPPC Alert] Crawl Failed: 東京電力エナジーパートナー", got.mail.Subject)
	require.Equal(t, "JPPC <alerts@example.com>", got.mail.From)
	require.Equal(t, []string{"ops@example.com"}, got.mail.To)
	require.Contains(t, string(got.mail.Text), "transient_fetch: timeout")
	require.Contains(t, string(got.mail.Text), "2024-04-01 02:00:00")
}

func TestEmailFallsBackWithoutAuth(t *testing.T) {
	t.Parallel()

	n, sent := newTestEmail(t, EmailConfig{
		Host:       "relay.local",
		Port:       25,
		Username:   "alerts@example.com",
		Recipients: []string{"ops@example.com"},
	}, errors.New("smtp: server doesn't support AUTH"))

	require.NoError(t, n.NotifyPriceChange(context.Background(), "中部電力ミライズ", sampleChanges(), alertTime))
	require.Len(t, *sent, 2)
	require.NotNil(t, (*sent)[0].auth)
	require.Nil(t, (*sent)[1].auth)
	require.Equal(t, "[JPPC Alert] Price Change Detected: 中部電力ミライズ", (*sent)[1].mail.Subject)
	require.Contains(t, string((*sent)[1].mail.Text), "1 price change(s)")
}

func TestEmailSendError(t *testing.T) {
	t.Parallel()

	n, _ := newTestEmail(t, EmailConfig{
		Host:       "relay.local",
		From:       "jppc@example.com",
		Recipients: []string{"ops@example.com"},
	}, errors.New("connection refused"))

	err := n.NotifyCrawlFailure(context.Background(), "関西電力", "boom", alertTime)
	require.ErrorContains(t, err, "connection refused")
}
