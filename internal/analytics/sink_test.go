package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type captureSink struct{ events []Event }

func (c *captureSink) Record(_ context.Context, e Event) { c.events = append(c.events, e) }

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	sink.Record(context.Background(), Event{Type: EventTurnProcessed, SessionID: "s1"})

	entries := logs.FilterMessage("analytics event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].ContextMap()["session_id"])
	assert.Equal(t, "analytics", entries[0].LoggerName)
}

func TestMulti(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	Multi{a, nil, b, Nop{}}.Record(context.Background(), Event{Type: EventSessionEnded})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestNATSSink_Publishes(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	msgChan := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("test.analytics.>", msgChan)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sink := NewNATSSink(nc, "test.analytics", 0, 0, nil)
	sink.Record(context.Background(), Event{Type: EventPhaseTransition, SessionID: "s1",
		Attributes: map[string]any{"to": "analysis"}})
	require.NoError(t, nc.Flush())

	select {
	case msg := <-msgChan:
		assert.Equal(t, "test.analytics.phase_transition", msg.Subject)
		var e Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.Equal(t, "s1", e.SessionID)
		assert.Equal(t, "analysis", e.Attributes["to"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for analytics event")
	}
}

func TestNATSSink_DropsOverBudget(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	msgChan := make(chan *nats.Msg, 16)
	sub, err := nc.ChanSubscribe("budget.>", msgChan)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sink := NewNATSSink(nc, "budget", 0.001, 2, nil)
	for i := 0; i < 5; i++ {
		sink.Record(context.Background(), Event{Type: EventTurnProcessed})
	}
	require.NoError(t, nc.Flush())

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, msgChan, 2)
}
