// Package relay implements the signaling relay: a WebSocket server that
// groups clients into document rooms and forwards envelopes between them.
// The relay never inspects payloads; it routes on the envelope header only.
package relay

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/inkwire/inkwire/internal/envelope"
	"github.com/inkwire/inkwire/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sendBuffer bounds the per-client outbound queue. A client that cannot
// drain this many frames is considered stuck and gets frames dropped.
const sendBuffer = 64

type client struct {
	userID string
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}

	once sync.Once
}

// deliver queues a frame for the client, dropping it when the queue is full
// or the client is already closed. sendCh is never closed; done tells the
// pump to stop draining.
func (c *client) deliver(frame []byte) {
	select {
	case <-c.done:
	case c.sendCh <- frame:
	default:
		util.Warnf("relay: client %s lagging, dropping frame", c.userID)
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump serializes all writes to one connection.
func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

type room struct {
	id      string
	clients map[string]*client
}

// Server is the room-keyed signaling relay.
type Server struct {
	listener net.Listener

	mu    sync.Mutex
	rooms map[string]*room
}

// NewServer creates an empty relay.
func NewServer() *Server {
	return &Server{rooms: map[string]*room{}}
}

// Start begins listening on addr (":0" picks a free port) and returns the
// bound port.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	util.Infof("relay listening on port %d", port)
	return port, nil
}

// Close stops the listener and disconnects every client.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rm := range s.rooms {
		for _, c := range rm.clients {
			c.close()
		}
	}
	s.rooms = map[string]*room{}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	userID := r.URL.Query().Get("user")
	if roomID == "" || userID == "" {
		http.Error(w, "room and user are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		userID: userID,
		conn:   conn,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	go c.writePump()

	s.join(roomID, c)
	s.readLoop(roomID, c)
	s.leave(roomID, c)
}

// join adds the client to its room, displacing any stale connection that
// still holds the same user id, then announces the new roster.
func (s *Server) join(roomID string, c *client) {
	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, clients: map[string]*client{}}
		s.rooms[roomID] = rm
	}
	old := rm.clients[c.userID]
	rm.clients[c.userID] = c
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	util.Infof("relay: %s joined room %s", c.userID, roomID)
	s.announceRoster(roomID)
}

func (s *Server) leave(roomID string, c *client) {
	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if ok && rm.clients[c.userID] == c {
		delete(rm.clients, c.userID)
		if len(rm.clients) == 0 {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()

	c.close()
	util.Infof("relay: %s left room %s", c.userID, roomID)
	s.announceRoster(roomID)
}

// readLoop forwards frames until the connection drops. Frames from one
// client are forwarded in arrival order.
func (s *Server) readLoop(roomID string, c *client) {
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := envelope.Decode(frame)
		if err != nil {
			util.Warnf("relay: dropping malformed frame from %s: %v", c.userID, err)
			continue
		}
		if env.Type == envelope.TypeLeaveRoom {
			return
		}

		// The sender field is stamped server-side so clients cannot
		// speak for each other.
		if env.FromUserID != c.userID {
			env.FromUserID = c.userID
			frame, err = envelope.Encode(env)
			if err != nil {
				continue
			}
		}
		s.route(roomID, c, env, frame)
	}
}

func (s *Server) route(roomID string, from *client, env *envelope.Envelope, frame []byte) {
	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	var targets []*client
	if env.Broadcast() {
		for id, c := range rm.clients {
			if id != from.userID {
				targets = append(targets, c)
			}
		}
	} else if c, ok := rm.clients[env.ToUserID]; ok {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.deliver(frame)
	}
}

// announceRoster broadcasts the current member list to everyone in the room.
func (s *Server) announceRoster(roomID string) {
	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	users := make([]string, 0, len(rm.clients))
	targets := make([]*client, 0, len(rm.clients))
	for id, c := range rm.clients {
		users = append(users, id)
		targets = append(targets, c)
	}
	s.mu.Unlock()

	env := envelope.New(envelope.TypeRoster, "", "relay", "", envelope.RosterPayload{Users: users})
	frame, err := envelope.Encode(env)
	if err != nil {
		return
	}
	for _, c := range targets {
		c.deliver(frame)
	}
}
