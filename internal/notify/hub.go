package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned by ServeWS after Close.
var ErrClosed = errors.New("notify: hub closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// Hub fans events out to websocket subscribers of each conversation.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[uint]map[*subscriber]struct{}
	closed bool
	now    func() time.Time
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewHub returns an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[uint]map[*subscriber]struct{}),
		now:  time.Now,
	}
}

// ServeWS upgrades the request and streams conversationID's events until
// the client goes away or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, conversationID uint) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	s := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if !h.add(conversationID, s) {
		conn.Close()
		return ErrClosed
	}
	defer h.remove(conversationID, s)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(s)
	}()

	h.readLoop(s)
	s.stop()
	wg.Wait()
	conn.Close()
	return nil
}

// readLoop only watches for the client leaving; clients never send data.
func (h *Hub) readLoop(s *subscriber) {
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Hub) add(id uint, s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set := h.subs[id]
	if set == nil {
		set = make(map[*subscriber]struct{})
		h.subs[id] = set
	}
	set[s] = struct{}{}
	return true
}

func (h *Hub) remove(id uint, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[id], s)
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
}

// Subscribers counts open connections for a conversation.
func (h *Hub) Subscribers(id uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

// Publish sends ev to every subscriber of its conversation. Slow
// subscribers miss events rather than stall the publisher.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("encode notification", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[ev.ConversationID] {
		select {
		case s.send <- msg:
		default:
			h.log.Debug("dropping notification for slow subscriber",
				zap.Uint("conversation_id", ev.ConversationID), zap.String("type", ev.Type))
		}
	}
}

// Error implements Notifier.
func (h *Hub) Error(_ context.Context, conversationID uint, text string) {
	h.Publish(Event{Type: TypeError, ConversationID: conversationID, Message: text})
}

// Action implements Notifier.
func (h *Hub) Action(_ context.Context, conversationID uint, text string, opts ...ActionOption) func() {
	ev := Event{
		Type:           TypeAction,
		ConversationID: conversationID,
		ActionID:       uuid.NewString(),
		Action:         text,
		Status:         StatusActive,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	h.Publish(ev)

	var once sync.Once
	return func() {
		once.Do(func() {
			ev.Status = StatusCompleted
			ev.Timestamp = time.Time{}
			h.Publish(ev)
		})
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			s.stop()
			s.conn.Close()
		}
	}
}
