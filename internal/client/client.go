// Package client is a WebSocket client for the realtime server that keeps a
// local View of chats, presence and task notifications.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// ErrUnauthorized is returned when the server rejects the token.
var ErrUnauthorized = errors.New("client: unauthorized")

// Options configure a Client.
type Options struct {
	URL             string // ws://host:port/ws
	APIURL          string // http://host:port, derived from URL when empty
	Token           string
	MaxAttempts     uint64        // dial attempts per (re)connect, default 5
	Backoff         time.Duration // wait between attempts, default 1s
	NotificationTTL time.Duration
	Dialer          *websocket.Dialer
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client holds one live connection at a time and reconnects on failure.
type Client struct {
	opts Options
	view *View

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// Dial connects, retrying with a constant backoff.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.APIURL == "" {
		api, err := apiURL(opts.URL)
		if err != nil {
			return nil, err
		}
		opts.APIURL = api
	}

	c := &Client{opts: opts, view: NewView(opts.NotificationTTL)}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// View returns the client's local state.
func (c *Client) View() *View {
	return c.view
}

func (c *Client) connect(ctx context.Context) error {
	target, err := c.endpoint()
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(c.opts.MaxAttempts-1, retry.NewConstant(c.opts.Backoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		conn, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return ErrUnauthorized
			}
			c.opts.Logger.Warn("dial failed", "attempt", attempt, "error", err)
			return retry.RetryableError(fmt.Errorf("dial %s: %w", c.opts.URL, err))
		}

		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.conn = conn
		c.mu.Unlock()
		return nil
	})
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if c.opts.Token != "" {
		q := u.Query()
		q.Set("token", c.opts.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// apiURL maps ws://host/ws to http://host and wss to https.
func apiURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.RawQuery = ""
	return u.String(), nil
}

type chatsResponse struct {
	Success bool              `json:"success"`
	Data    []domain.ChatView `json:"data"`
	Message string            `json:"message"`
}

// RefreshChats loads the caller's chats from GET /chats into the view.
func (c *Client) RefreshChats(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.APIURL+"/chats", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch chats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chats returned status %d: %s", resp.StatusCode, string(body))
	}

	var out chatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode chats: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("chats: %s", out.Message)
	}
	c.view.LoadChats(out.Data)
	return nil
}

// Send writes one event.
func (c *Client) Send(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("client: not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// SendMessage posts content to a chat.
func (c *Client) SendMessage(chatID, content string) error {
	return c.Send(protocol.EventSendMessage, protocol.SendMessagePayload{ChatID: chatID, Content: content})
}

// CreateChat asks for a chat with the given participants.
func (c *Client) CreateChat(participantIDs ...string) error {
	return c.Send(protocol.EventCreateChat, protocol.CreateChatPayload{ParticipantIDs: participantIDs})
}

// JoinChat joins a chat room.
func (c *Client) JoinChat(chatID string) error {
	return c.Send(protocol.EventJoinChat, chatID)
}

// Run reads events into the view and calls handle for each, reconnecting
// when the connection drops. Each user-chats-synced reloads the chat list
// over HTTP before it is handed on, so messages for rooms joined at connect
// land in the view. It returns when ctx is done or a reconnect
// gives up.
func (c *Client) Run(ctx context.Context, handle func(protocol.Envelope)) error {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		err := c.readLoop(ctx, conn, handle)
		if ctx.Err() != nil {
			return nil
		}
		c.opts.Logger.Info("connection lost, reconnecting", "error", err)
		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handle func(protocol.Envelope)) error {
	if conn == nil {
		return errors.New("client: not connected")
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			c.opts.Logger.Warn("bad frame", "error", err)
			continue
		}
		if err := c.view.Apply(*env); err != nil {
			c.opts.Logger.Warn("apply event", "event", env.Event, "error", err)
		}
		if env.Event == protocol.EventUserChatsSynced {
			if err := c.RefreshChats(ctx); err != nil {
				c.opts.Logger.Warn("refresh chats", "error", err)
			}
		}
		if handle != nil {
			handle(*env)
		}
	}
}

// Close closes the current connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
