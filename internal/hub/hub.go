// Package hub tracks live WebSocket connections, their users and the chat
// rooms they have joined, and fans events out to them.
package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xiaot623/teamdesk/internal/metrics"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// DefaultSendBuffer is the per-connection outbound queue size.
const DefaultSendBuffer = 256

type target int

const (
	toConnection target = iota
	toUser
	toRoom
	toAll
)

type request struct {
	conn *Connection
	done chan struct{}
}

type delivery struct {
	target target
	key    string
	conn   *Connection
	data   []byte
	n      int
	done   chan struct{}
}

// Hub manages all WebSocket connections. Registry mutations and deliveries
// are applied by the Run loop; room joins take the hub lock directly.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// users maps user ID to its live connections
	users map[string]map[string]*Connection

	// rooms maps room (chat) ID to the connections that joined it
	rooms map[string]map[string]*Connection

	register   chan *request
	unregister chan *request
	deliver    chan *delivery
	stopped    chan struct{}
	stopOnce   sync.Once

	sendBuffer int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu sync.RWMutex
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendBuffer sets the per-connection outbound queue size.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records connection gauges on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new Hub. Call Run to start it.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		connections: make(map[string]*Connection),
		users:       make(map[string]map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		register:    make(chan *request),
		unregister:  make(chan *request),
		deliver:     make(chan *delivery),
		stopped:     make(chan struct{}),
		sendBuffer:  DefaultSendBuffer,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop and blocks until ctx is cancelled. On exit
// every connection's Send channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return

		case req := <-h.register:
			h.addConnection(req.conn)
			h.logger.Debug("connection registered", "conn_id", req.conn.ID, "user_id", req.conn.UserID)
			h.broadcastPresence()
			close(req.done)

		case req := <-h.unregister:
			if h.removeConnection(req.conn) {
				h.logger.Debug("connection unregistered", "conn_id", req.conn.ID, "user_id", req.conn.UserID)
				h.broadcastPresence()
			}
			close(req.done)

		case d := <-h.deliver:
			d.n = h.send(h.targets(d), d.data)
			close(d.done)
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.stopped)
		h.mu.Lock()
		for id, conn := range h.connections {
			close(conn.Send)
			delete(h.connections, id)
		}
		h.users = make(map[string]map[string]*Connection)
		h.rooms = make(map[string]map[string]*Connection)
		h.mu.Unlock()
	})
}

// NewConnection creates a connection for userID. It is not live until Register.
func (h *Hub) NewConnection(userID string) *Connection {
	return &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		Send:   make(chan []byte, h.sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// Register makes conn live and broadcasts presence. It returns once the
// loop has applied the change, or false if the hub has stopped.
func (h *Hub) Register(conn *Connection) bool {
	return h.await(h.register, &request{conn: conn, done: make(chan struct{})})
}

// Unregister removes conn from the registry and every room, closes its Send
// channel and broadcasts presence. Unregistering twice is a no-op.
func (h *Hub) Unregister(conn *Connection) bool {
	return h.await(h.unregister, &request{conn: conn, done: make(chan struct{})})
}

func (h *Hub) await(ch chan *request, req *request) bool {
	select {
	case ch <- req:
	case <-h.stopped:
		return false
	}
	select {
	case <-req.done:
		return true
	case <-h.stopped:
		return false
	}
}

// SendToConnection queues data for a single connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) bool {
	return h.dispatch(&delivery{target: toConnection, conn: conn, data: data}) > 0
}

// SendToUser queues data for every live connection of userID and returns the
// number of connections reached.
func (h *Hub) SendToUser(userID string, data []byte) int {
	return h.dispatch(&delivery{target: toUser, key: userID, data: data})
}

// BroadcastRoom queues data for every connection joined to roomID.
func (h *Hub) BroadcastRoom(roomID string, data []byte) int {
	return h.dispatch(&delivery{target: toRoom, key: roomID, data: data})
}

// BroadcastAll queues data for every live connection.
func (h *Hub) BroadcastAll(data []byte) int {
	return h.dispatch(&delivery{target: toAll, data: data})
}

func (h *Hub) dispatch(d *delivery) int {
	d.done = make(chan struct{})
	select {
	case h.deliver <- d:
	case <-h.stopped:
		return 0
	}
	select {
	case <-d.done:
		return d.n
	case <-h.stopped:
		return 0
	}
}

// JoinRoom adds a live connection to roomID.
func (h *Hub) JoinRoom(conn *Connection, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return false
	}
	h.joinLocked(conn, roomID)
	return true
}

// JoinUserToRoom adds every live connection of userID to roomID and returns
// how many joined.
func (h *Hub) JoinUserToRoom(userID, roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, conn := range h.users[userID] {
		h.joinLocked(conn, roomID)
		n++
	}
	return n
}

func (h *Hub) joinLocked(conn *Connection, roomID string) {
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Connection)
	}
	h.rooms[roomID][conn.ID] = conn
	conn.rooms[roomID] = struct{}{}
}

// InRoom reports whether conn has joined roomID.
func (h *Hub) InRoom(conn *Connection, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][conn.ID]
	return ok
}

// Rooms returns the sorted room IDs conn has joined.
func (h *Hub) Rooms(conn *Connection) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(conn.rooms))
	for id := range conn.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnlineUserIDs returns the sorted IDs of users with a live connection.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked()
}

// IsOnline reports whether userID has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// GetConnectionCount returns the number of live connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) onlineLocked() []string {
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) addConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	if h.users[conn.UserID] == nil {
		h.users[conn.UserID] = make(map[string]*Connection)
	}
	h.users[conn.UserID][conn.ID] = conn
	h.mu.Unlock()
	h.recordGauges()
}

func (h *Hub) removeConnection(conn *Connection) bool {
	h.mu.Lock()
	if _, ok := h.connections[conn.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.connections, conn.ID)
	if set := h.users[conn.UserID]; set != nil {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(h.users, conn.UserID)
		}
	}
	for roomID := range conn.rooms {
		if set := h.rooms[roomID]; set != nil {
			delete(set, conn.ID)
			if len(set) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	conn.rooms = make(map[string]struct{})
	close(conn.Send)
	h.mu.Unlock()
	h.recordGauges()
	return true
}

func (h *Hub) recordGauges() {
	h.mu.RLock()
	conns, users := len(h.connections), len(h.users)
	h.mu.RUnlock()
	h.metrics.SetConnections(conns)
	h.metrics.SetOnlineUsers(users)
}

func (h *Hub) targets(d *delivery) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var conns []*Connection
	switch d.target {
	case toConnection:
		if _, ok := h.connections[d.conn.ID]; ok {
			conns = append(conns, d.conn)
		}
	case toUser:
		for _, c := range h.users[d.key] {
			conns = append(conns, c)
		}
	case toRoom:
		for _, c := range h.rooms[d.key] {
			conns = append(conns, c)
		}
	case toAll:
		for _, c := range h.connections {
			conns = append(conns, c)
		}
	}
	return conns
}

// send queues data on each connection without blocking. Connections whose
// buffer is full are dropped, which changes presence, so the loop keeps
// going until a presence broadcast reaches everyone.
func (h *Hub) send(conns []*Connection, data []byte) int {
	delivered := 0
	slow := h.enqueue(conns, data, &delivered)
	for len(slow) > 0 {
		for _, conn := range slow {
			h.logger.Warn("connection buffer full, dropping", "conn_id", conn.ID, "user_id", conn.UserID)
			h.metrics.SlowConsumerDropped()
			h.removeConnection(conn)
		}
		slow = h.enqueue(h.allConnections(), h.presenceFrame(), nil)
	}
	return delivered
}

func (h *Hub) enqueue(conns []*Connection, data []byte, delivered *int) []*Connection {
	var slow []*Connection
	for _, conn := range conns {
		select {
		case conn.Send <- data:
			if delivered != nil {
				*delivered++
			}
		default:
			slow = append(slow, conn)
		}
	}
	return slow
}

func (h *Hub) allConnections() []*Connection {
	return h.targets(&delivery{target: toAll})
}

func (h *Hub) presenceFrame() []byte {
	h.mu.RLock()
	ids := h.onlineLocked()
	h.mu.RUnlock()
	return protocol.MustEncode(protocol.EventOnlineUsersUpdated, protocol.OnlineUsersPayload{OnlineUserIDs: ids})
}

// broadcastPresence sends the online set to every live connection.
func (h *Hub) broadcastPresence() {
	h.send(h.allConnections(), h.presenceFrame())
}
