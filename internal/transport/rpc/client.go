package rpc

import (
	"context"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/teamdesk/internal/domain"
)

// Client calls the Realtime RPC service. Each call uses its own connection.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient accepts host:port or a URL whose host is used.
func NewClient(addr string) *Client {
	return &Client{
		addr:        resolveRPCAddr(addr),
		dialTimeout: 5 * time.Second,
		callTimeout: 5 * time.Second,
	}
}

// NotifyTask announces a task change and returns the number of connections
// reached.
func (c *Client) NotifyTask(ctx context.Context, task *domain.Task, updatedBy string, updateType domain.UpdateType) (int, error) {
	req := &NotifyTaskRequest{Task: task, UpdatedBy: updatedBy, UpdateType: updateType}
	var resp NotifyTaskResponse
	if err := c.call(ctx, ServiceName+".NotifyTask", req, &resp); err != nil {
		return 0, fmt.Errorf("notify task %s: %w", task.ID, err)
	}
	if !resp.OK {
		return 0, fmt.Errorf("notify task %s: rpc returned ok=false", task.ID)
	}
	return resp.Recipients, nil
}

// OnlineUsers returns the online user ids.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var resp OnlineUsersResponse
	if err := c.call(ctx, ServiceName+".OnlineUsers", &OnlineUsersRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("online users: %w", err)
	}
	return resp.OnlineUserIDs, nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	if c.addr == "" {
		return fmt.Errorf("rpc address is not configured")
	}
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
