package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transient", err: NewError(KindTransientFetch, "tepco", "https://x", errors.New("503")), want: true},
		{name: "wrapped transient", err: fmt.Errorf("extract: %w", NewError(KindTransientFetch, "tepco", "", errors.New("timeout"))), want: true},
		{name: "extraction", err: NewError(KindExtraction, "tepco", "", errors.New("no tables")), want: false},
		{name: "compliance", err: NewError(KindComplianceDenied, "tepco", "", errors.New("disallowed")), want: false},
		{name: "net timeout", err: timeoutErr{}, want: true},
		{name: "canceled", err: fmt.Errorf("load: %w", context.Canceled), want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestCrawlErrorFormattingAndKind(t *testing.T) {
	t.Parallel()

	cause := errors.New("expected price tables not found")
	err := NewError(KindExtraction, "kepco", "https://www.kepco.co.jp/a", cause)
	require.Equal(t, "extraction: https://www.kepco.co.jp/a: expected price tables not found", err.Error())
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindExtraction, KindOf(fmt.Errorf("wrap: %w", err)))
	require.Equal(t, ErrorKind(""), KindOf(cause))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.NoError(t, ClassifyStatus("https://x", 200))
	require.NoError(t, ClassifyStatus("https://x", 304))
	require.True(t, IsRetryable(ClassifyStatus("https://x", 503)))
	require.True(t, IsRetryable(ClassifyStatus("https://x", 429)))
	require.Equal(t, KindExtraction, KindOf(ClassifyStatus("https://x", 404)))
	require.False(t, IsRetryable(ClassifyStatus("https://x", 403)))
}
