package kafkasink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/commshub/pkg/report"
	"github.com/kart-io/commshub/pkg/status"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestSendKeysByDispatch(t *testing.T) {
	w := &fakeWriter{}
	sink := New(w, nil)

	r := (&report.Report{DispatchID: "d-1", EventName: report.EventDispatched, ChannelID: "email", Status: status.Dispatched}).Normalize()
	require.NoError(t, sink.Send(context.Background(), r))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "d-1", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"subject":"email"`)
	assert.Equal(t, "content-type", w.msgs[0].Headers[0].Key)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestOnReportLogsWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	sink := New(w, nil)
	assert.NotPanics(t, func() {
		sink.OnReport((&report.Report{EventName: report.EventError}).Normalize())
	})
	assert.Error(t, sink.Send(context.Background(), (&report.Report{EventName: report.EventError}).Normalize()))
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(Config{Brokers: []string{"localhost:9092"}, Topic: "reports"})
	assert.Equal(t, "reports", w.Topic)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
}
