package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/usecase"
)

// Message types pushed to websocket observers.
const (
	MessageTypeSnapshot        = "snapshot"
	MessageTypeSession         = "session"
	MessageTypeTranscript      = "transcript"
	MessageTypeError           = "error"
	MessageTypeAnalysisLoading = "analysis_loading"
	MessageTypeAnalysisResult  = "analysis_result"
	MessageTypeAnalysisError   = "analysis_error"
)

const (
	sendBuffer     = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4096
)

// Message is one websocket frame sent to observers.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans session events out to websocket observers. A client whose send
// buffer is full is disconnected rather than blocking the session.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	snapshot func() usecase.DisplaySnapshot
	log      *logger.Logger
}

func NewHub(snapshot func() usecase.DisplaySnapshot, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		snapshot: snapshot,
		log:      log.Named("web-socket"),
	}
}

// ClientCount reports connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and streams events until the peer leaves.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	c := newClient(conn)
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	h.log.Debug("Client registered",
		logger.String("remote_addr", r.RemoteAddr),
		logger.Int("client_count", h.ClientCount()))

	go h.writePump(c)
	go h.readPump(c)
}

// register queues the snapshot before the client can see any live event.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.snapshot != nil {
		if data, err := json.Marshal(Message{Type: MessageTypeSnapshot, Data: h.snapshot()}); err == nil {
			c.send <- data
		} else {
			h.log.Error("Failed to marshal snapshot", logger.Error(err))
		}
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.close()
}

// Broadcast sends msg to every client, dropping the ones that cannot keep up.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("Failed to marshal message", logger.Error(err), logger.String("type", msg.Type))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("Dropping slow websocket client", logger.String("remote_addr", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		h.log.Debug("Client unregistered", logger.Int("client_count", h.ClientCount()))
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug("WebSocket read error", logger.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Hub) SessionStateChanged(snapshot domain.SessionSnapshot) {
	h.Broadcast(Message{Type: MessageTypeSession, Data: snapshot})
}

func (h *Hub) TranscriptUpdated(update domain.TranscriptUpdate) {
	h.Broadcast(Message{Type: MessageTypeTranscript, Data: update})
}

func (h *Hub) SessionError(kind domain.ErrorKind, detail string) {
	h.Broadcast(Message{Type: MessageTypeError, Data: usecase.ErrorBanner{Kind: kind, Message: detail}})
}

func (h *Hub) AnalysisLoading(loading bool) {
	h.Broadcast(Message{Type: MessageTypeAnalysisLoading, Data: map[string]bool{"loading": loading}})
}

func (h *Hub) AnalysisCompleted(outcome domain.AnalysisOutcome) {
	h.Broadcast(Message{Type: MessageTypeAnalysisResult, Data: outcome})
}

func (h *Hub) AnalysisFailed(outcome domain.AnalysisOutcome) {
	h.Broadcast(Message{Type: MessageTypeAnalysisError, Data: outcome})
}
