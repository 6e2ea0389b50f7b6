package hub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/commshub/pkg/audience"
	"github.com/kart-io/commshub/pkg/config"
	"github.com/kart-io/commshub/pkg/content"
	"github.com/kart-io/commshub/pkg/dispatch"
	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/report"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

const baseConfig = `
providers:
  - id: console
    type: console
channels:
  - id: sms
    type: sms
    providers: [console]
    message:
      text: "Hi {{.name}}"
      cultures:
        fr: "Salut {{.name}}"
  - id: push
    type: push
    title:
      text: "Hello"
    body:
      text: "Welcome {{.name}}"
pipelines:
  - intent: welcome
    channels: [sms, push]
`

func parse(t *testing.T, raw string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(raw))
	require.NoError(t, err)
	return cfg
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func phone() audience.Address { return audience.Parse("+14155550100") }

func TestDispatchThroughConsole(t *testing.T) {
	var out bytes.Buffer
	events := report.NewRecorder()
	h, err := New(parse(t, baseConfig),
		WithLogger(logger.Discard),
		WithOutput(&out),
		WithObservers(events),
	)
	require.NoError(t, err)
	defer h.Close(context.Background())

	require.Len(t, h.Pipelines(), 1)
	assert.Contains(t, h.Providers().IDs(), "console")

	res, err := h.Dispatch(context.Background(), dispatch.Request{
		Intent:     "welcome",
		Recipients: []audience.Address{phone()},
		Model:      content.Raw(map[string]any{"name": "Ada"}),
		Culture:    "fr-CA",
	})
	require.NoError(t, err)
	require.True(t, res.IsSuccessful())
	require.Len(t, res.Results, 1)
	assert.Equal(t, "sms", res.Results[0].ChannelID)
	assert.Equal(t, "console", res.Results[0].ProviderID)

	got := lines(t, &out)
	require.Len(t, got, 1)
	assert.Equal(t, "Salut Ada", got[0]["communication"].(map[string]any)["Message"])

	require.True(t, events.WaitFor(1, time.Second))
	assert.Equal(t, report.EventDispatched, events.Reports()[0].EventName)
}

func TestReportSinks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	writer := &fakeWriter{}

	cfg := parse(t, baseConfig+`
report:
  redis_stream: "test:reports"
  kafka_topic: reports
`)
	h, err := New(cfg,
		WithLogger(logger.Discard),
		WithOutput(&bytes.Buffer{}),
		WithRedisClient(client),
		WithKafkaWriter(writer),
	)
	require.NoError(t, err)

	_, err = h.Dispatch(context.Background(), dispatch.Request{
		Intent:     "welcome",
		Recipients: []audience.Address{phone()},
		Model:      content.Raw(map[string]any{"name": "Ada"}),
	})
	require.NoError(t, err)

	// closing right away still flushes queued reports to both sinks
	require.NoError(t, h.Close(context.Background()))
	entries, err := client.XRange(context.Background(), "test:reports", "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, writer.count())
	assert.True(t, writer.closed)
	// the injected client stays open
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestFileTemplatesWithCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "otp.txt"), []byte("Code {{.code}}"), 0o600))

	cfg := parse(t, `
template:
  base_dir: `+dir+`
  cache_ttl: 1m
  hot_reload: true
providers:
  - id: console
    type: console
channels:
  - id: sms
    type: sms
    message:
      file: otp.txt
pipelines:
  - intent: otp
    channels: [sms]
`)
	var out bytes.Buffer
	h, err := New(cfg, WithLogger(logger.Discard), WithOutput(&out))
	require.NoError(t, err)
	defer h.Close(context.Background())
	require.NotNil(t, h.reloader)

	for i := 0; i < 2; i++ {
		res, err := h.Dispatch(context.Background(), dispatch.Request{
			Intent:     "otp",
			Recipients: []audience.Address{phone()},
			Model:      content.Raw(map[string]any{"code": "1234"}),
		})
		require.NoError(t, err)
		require.True(t, res.IsSuccessful())
	}
	got := lines(t, &out)
	require.Len(t, got, 2)
	assert.Equal(t, "Code 1234", got[1]["communication"].(map[string]any)["Message"])
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "unknown channel",
			raw: `
pipelines:
  - intent: welcome
    channels: [missing]
`,
			want: "unknown channel",
		},
		{
			name: "redis stream without redis",
			raw: `
report:
  redis_stream: reports
`,
			want: "redis",
		},
		{
			name: "smtp without settings",
			raw: `
providers:
  - id: mailer
    type: smtp
`,
			want: "smtp settings required",
		},
		{
			name: "bad strategy",
			raw: `
channels:
  - id: sms
    type: sms
    message:
      text: hi
pipelines:
  - intent: welcome
    channels: [sms]
    strategy: sometimes
`,
			want: "sometimes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(parse(t, tt.raw), WithLogger(logger.Discard))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := New(nil)
	assert.Error(t, err)
}

func TestDispatchTimeout(t *testing.T) {
	cfg := parse(t, baseConfig)
	cfg.Timeout = time.Nanosecond
	h, err := New(cfg, WithLogger(logger.Discard), WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	defer h.Close(context.Background())

	time.Sleep(time.Millisecond)
	res, err := h.Dispatch(context.Background(), dispatch.Request{
		Intent:     "welcome",
		Recipients: []audience.Address{phone()},
		Model:      content.Raw(map[string]any{"name": "Ada"}),
	})
	if err == nil {
		require.NotNil(t, res)
		assert.False(t, res.IsSuccessful())
		return
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(config.LogConfig{Level: "info", Format: "json"}, &buf).Info("hello", "k", "v")
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "commshub", m["service"])

	buf.Reset()
	NewLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf).Info("hidden")
	assert.Empty(t, buf.String())
	NewLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf).Warn("shown")
	assert.True(t, strings.Contains(buf.String(), "shown"))
}

func TestProviderMiddlewareFromConfig(t *testing.T) {
	cfg := parse(t, strings.Replace(baseConfig, "    type: console\n", `    type: console
    retry:
      max_attempts: 3
      base_delay: 1ms
    rate_limit:
      requests_per_second: 1
      burst: 1
`, 1))
	require.NotNil(t, cfg.Providers[0].RateLimit)
	h, err := New(cfg, WithLogger(logger.Discard), WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	defer h.Close(context.Background())

	req := dispatch.Request{
		Intent:     "welcome",
		Recipients: []audience.Address{phone()},
		Model:      content.Raw(map[string]any{"name": "Ada"}),
	}
	res, err := h.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsSuccessful())

	// the single token is spent; the next dispatch waits past its deadline
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err = h.Dispatch(ctx, req)
	if err == nil {
		assert.False(t, res.IsSuccessful())
	}
}
