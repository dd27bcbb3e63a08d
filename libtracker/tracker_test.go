package libtracker_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/medstay/inbox/libtracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestUnit_LogTrackerWritesFailuresWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tracker := libtracker.NewLogActivityTracker(logger)

	ctx := libtracker.WithIdentity(context.Background(), "host.bob")
	ctx = context.WithValue(ctx, libtracker.ContextKeyRequestID, "req-1")

	reportErr, reportChange, end := tracker.Start(ctx, "send", "message", "conversation_id", "a___b")
	reportChange("m1", map[string]any{"seq": 1})
	reportErr(errors.New("store unavailable"))
	end()

	out := buf.String()
	require.Contains(t, out, `"request_id":"req-1"`)
	require.Contains(t, out, `"identity":"host.bob"`)
	require.Contains(t, out, `"conversation_id":"a___b"`)
	require.Contains(t, out, "store unavailable")
	require.Equal(t, 3, strings.Count(out, "\n"))
}

func TestUnit_ChainedTrackerFansOut(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := libtracker.NewMetricsTracker(reg)
	require.NoError(t, err)

	chain := libtracker.ChainedTracker{libtracker.NoopTracker{}, metrics}
	reportErr, reportChange, end := chain.Start(context.Background(), "send", "message")
	reportChange("m1", nil)
	end()

	reportErr, _, end = chain.Start(context.Background(), "send", "message")
	reportErr(errors.New("x"))
	end()
	_ = reportChange

	series, err := testutil.GatherAndCount(reg, "inbox_operations_total")
	require.NoError(t, err)
	require.Equal(t, 2, series)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP inbox_changes_total Reported entity changes.
# TYPE inbox_changes_total counter
inbox_changes_total{operation="send",subject="message"} 1
`), "inbox_changes_total"))
}

func TestUnit_MetricsTrackerRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := libtracker.NewMetricsTracker(reg)
	require.NoError(t, err)
	_, err = libtracker.NewMetricsTracker(reg)
	require.Error(t, err)
}

func TestUnit_CopyTrackingValues(t *testing.T) {
	src := libtracker.WithIdentity(libtracker.WithNewRequestID(context.Background()), "guest.ana")
	ctx, cancel := context.WithCancel(src)
	cancel()

	dst := libtracker.CopyTrackingValues(ctx, context.Background())
	require.NoError(t, dst.Err())
	require.Equal(t, "guest.ana", libtracker.Identity(dst))
	require.True(t, strings.HasPrefix(libtracker.RequestID(dst), "cli-"))
}
