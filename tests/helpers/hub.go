package helpers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/xiaot623/teamdesk/internal/hub"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// StartHub runs a hub until the test ends.
func StartHub(t *testing.T, opts ...hub.Option) *hub.Hub {
	t.Helper()
	h := hub.NewHub(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// Connect registers a connection for userID and discards the presence
// frames queued so far.
func Connect(t *testing.T, h *hub.Hub, userID string) *hub.Connection {
	t.Helper()
	conn := h.NewConnection(userID)
	if !h.Register(conn) {
		t.Fatalf("failed to register connection for %s", userID)
	}
	Drain(conn)
	return conn
}

// Drain returns the frames queued on conn without blocking.
func Drain(conn *hub.Connection) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case raw, ok := <-conn.Send:
			if !ok {
				return out
			}
			var env protocol.Envelope
			if err := json.Unmarshal(raw, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

// Events keeps the frames named event, decoding each payload into T.
func Events[T any](t *testing.T, frames []protocol.Envelope, event string) []T {
	t.Helper()
	var out []T
	for _, f := range frames {
		if f.Event != event {
			continue
		}
		var v T
		if err := json.Unmarshal(f.Data, &v); err != nil {
			t.Fatalf("decode %s: %v", event, err)
		}
		out = append(out, v)
	}
	return out
}
