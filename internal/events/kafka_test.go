package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableBroker refuses connections immediately.
const unreachableBroker = "127.0.0.1:1"

func newUnreachablePublisher(t *testing.T) *KafkaPublisher {
	t.Helper()
	p := NewKafkaPublisher(KafkaConfig{
		Brokers:      []string{unreachableBroker},
		Topic:        "contactlink.identity",
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestKafkaPublisher_DoesNotWaitForBroker(t *testing.T) {
	p := newUnreachablePublisher(t)
	ev := Event{Type: TypeContactCreated, PrimaryContactID: 1, ContactIDs: []int64{1}, Timestamp: time.Now()}

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), ev))
	}
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestKafkaPublisher_ReportsDeliveryFailure(t *testing.T) {
	var got []string
	logger := slog.New(&captureHandler{msgs: &got})

	completionLogger(logger)(nil, nil)
	assert.Empty(t, got, "successful deliveries are not logged")

	completionLogger(logger)(nil, assert.AnError)
	assert.Equal(t, []string{"events: kafka delivery failed"}, got)
}

type captureHandler struct {
	msgs *[]string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	*h.msgs = append(*h.msgs, r.Message)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }
