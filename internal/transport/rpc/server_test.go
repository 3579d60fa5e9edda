package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/protocol"
	"github.com/xiaot623/teamdesk/internal/service"
	"github.com/xiaot623/teamdesk/tests/helpers"
)

func startServer(t *testing.T, notifier TaskNotifier, presence Presence) *Client {
	t.Helper()
	srv, err := NewServer(notifier, presence, nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return NewClient("tcp://" + ln.Addr().String())
}

func TestNotifyTaskOverRPC(t *testing.T) {
	h := helpers.StartHub(t)
	client := startServer(t, service.NewTaskNotifier(h, nil, nil), h)
	ctx := context.Background()

	bob := helpers.Connect(t, h, "bob")
	helpers.Connect(t, h, "alice")
	helpers.Drain(bob)

	online, err := client.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, online)

	task := &domain.Task{ID: "t1", Title: "Review", Assignees: []string{"alice", "bob", "carol"}}
	n, err := client.NotifyTask(ctx, task, "alice", domain.UpdateDetails)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := helpers.Events[domain.TaskNotification](t, helpers.Drain(bob), protocol.EventTaskUpdated)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].Task.ID)
	assert.Equal(t, "alice", got[0].UpdatedBy)
}

func TestNotifyTaskValidation(t *testing.T) {
	h := helpers.StartHub(t)
	client := startServer(t, service.NewTaskNotifier(h, nil, nil), h)
	ctx := context.Background()

	_, err := client.NotifyTask(ctx, &domain.Task{ID: "t1"}, "alice", domain.UpdateType("renamed"))
	assert.Error(t, err)
	_, err = client.NotifyTask(ctx, &domain.Task{}, "alice", domain.UpdateStatus)
	assert.Error(t, err)
}

func TestClientWithoutAddress(t *testing.T) {
	_, err := NewClient("").OnlineUsers(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "localhost:8092", resolveRPCAddr("tcp://localhost:8092"))
	assert.Equal(t, "localhost:8092", resolveRPCAddr(" localhost:8092 "))
}
