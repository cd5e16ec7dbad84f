// README: Websocket hub streaming tracking updates to subscribed viewers.
package tracking

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"speedyfood/internal/types"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	subscriberBuf = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Hub struct {
	mu   sync.Mutex
	subs map[types.ID]map[chan Update]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[types.ID]map[chan Update]struct{})}
}

// Subscribe returns a channel of updates for the order and a func that
// unsubscribes and closes it.
func (h *Hub) Subscribe(code types.ID) (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuf)
	h.mu.Lock()
	if h.subs[code] == nil {
		h.subs[code] = make(map[chan Update]struct{})
	}
	h.subs[code][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[code]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, code)
				}
			}
			close(ch)
		})
	}
}

// Broadcast delivers u to every subscriber of its order. Slow subscribers
// miss updates instead of blocking the refresh loop.
func (h *Hub) Broadcast(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[u.OrderCode] {
		select {
		case ch <- u:
		default:
		}
	}
}

func (h *Hub) Subscribers(code types.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[code])
}

func (h *Hub) Start(_ context.Context, _ Session, u Update) (int, error) {
	h.Broadcast(u)
	return 0, nil
}

func (h *Hub) Refresh(_ context.Context, _ Session, u Update) error {
	h.Broadcast(u)
	return nil
}

// Stop closes the viewers' streams only with a final update; a chat session
// ending while others still follow the order leaves them open.
func (h *Hub) Stop(_ context.Context, _ Session, final Update) error {
	if final.Stopped {
		h.Broadcast(final)
	}
	return nil
}

// Serve upgrades the request and streams updates for code until the viewer
// disconnects or a Stopped update is sent. initial, when non-nil, is written first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, code types.ID, initial *Update) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	updates, unsubscribe := h.Subscribe(code)
	defer unsubscribe()

	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if initial != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(initial); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return nil
		case <-r.Context().Done():
			return nil
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("tracking: ping %s: %v", code, err)
				return nil
			}
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				return err
			}
			if u.Stopped {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "tracking stopped"),
					time.Now().Add(writeWait))
				return nil
			}
		}
	}
}
