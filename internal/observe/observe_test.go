package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/redis"
)

type recordingSink struct {
	mu     sync.Mutex
	events []contracts.Event
	gate   chan struct{} // when set, Write blocks until closed
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, e contracts.Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) stages() []contracts.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.Stage
	for _, e := range s.events {
		out = append(out, e.Stage)
	}
	return out
}

func TestDispatcher_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(8, logger.Nop(), sink)

	d.Emit(contracts.Event{RequestID: "r1", Stage: contracts.StageGroundTruth})
	d.Emit(contracts.Event{RequestID: "r1", Stage: contracts.StageGate})
	d.Close()

	assert.Equal(t, []contracts.Stage{contracts.StageGroundTruth, contracts.StageGate}, sink.stages())
	assert.Equal(t, int64(2), d.Written())
	assert.Zero(t, d.Dropped())
}

func TestDispatcher_NeverBlocksWhenFull(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	d := NewDispatcher(1, logger.Nop(), sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Emit(contracts.Event{RequestID: "r", Stage: contracts.StageRank})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a stalled sink")
	}

	close(sink.gate)
	d.Close()
	assert.Positive(t, d.Dropped())
	assert.Equal(t, int64(50), d.Dropped()+d.Written())
}

func TestDispatcher_EmitAfterCloseIsDropped(t *testing.T) {
	d := NewDispatcher(4, logger.Nop())
	d.Close()

	assert.NotPanics(t, func() { d.Emit(contracts.Event{}) })
	assert.Equal(t, int64(1), d.Dropped())
	d.Close()
}

func TestLogSink_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logger.NewWithWriter(&buf, "debug"))

	err := sink.Write(context.Background(), contracts.Event{
		RequestID:       "req-1",
		Stage:           contracts.StageOutcome,
		Template:        "market_note",
		TemplateVersion: "2",
		ConfigHash:      "abc123",
		Attrs:           map[string]interface{}{"outcome": "released"},
	})
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "market_note@2", line["template"])
	assert.Equal(t, "abc123", line["config_hash"])
	assert.Equal(t, "released", line["outcome"])
}

func TestRedisStreamSink_DisabledIsNoop(t *testing.T) {
	client, err := redis.New(&config.Config{})
	require.NoError(t, err)

	sink := NewRedisStreamSink(redis.NewStreamPublisher(client, "narrator:events", 0))
	assert.NoError(t, sink.Write(context.Background(), contracts.Event{Stage: contracts.StageGate}))
}

func TestHub_BroadcastsToSubscribers(t *testing.T) {
	hub := NewHub(logger.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Write(context.Background(), contracts.Event{RequestID: "req-9", Stage: contracts.StageInject}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got contracts.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "req-9", got.RequestID)
	assert.Equal(t, contracts.StageInject, got.Stage)
}

func TestInitTracing_DisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), &config.Config{}, logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
