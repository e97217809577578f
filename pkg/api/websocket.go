package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cuemby/minepanel/pkg/console"
	"github.com/cuemby/minepanel/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxClientMessage = 4096
)

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// wsConn serializes writes to one WebSocket connection
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// readLoop hands client messages to onMessage until the connection closes,
// then cancels the connection context
func readLoop(ctx context.Context, cancel context.CancelFunc, c *wsConn, onMessage func([]byte)) {
	defer cancel()
	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil && ctx.Err() == nil {
			onMessage(data)
		}
	}
}

// streamEvents streams broker events as JSON. The optional topic query
// parameter restricts the stream to one instance.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		return
	}
	c := &wsConn{conn: raw}

	broker := s.manager.Broker()
	sub := broker.Subscribe(r.URL.Query().Get("topic"))
	defer broker.Unsubscribe(sub)
	metrics.EventSubscribers.Set(float64(broker.SubscriberCount()))
	defer func() { metrics.EventSubscribers.Set(float64(broker.SubscriberCount())) }()

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	go readLoop(ctx, cancel, c, nil)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// evicted as too slow, or shutting down
				c.close(websocket.CloseTryAgainLater, "event stream closed")
				return
			}
			if err := c.writeJSON(ev); err != nil {
				c.close(websocket.CloseGoingAway, "")
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.close(websocket.CloseGoingAway, "")
				return
			}
		case <-ctx.Done():
			c.close(websocket.CloseNormalClosure, "")
			return
		}
	}
}

type consoleCommand struct {
	Command string `json:"command"`
}

// streamConsole relays server output to the client and runs the commands it
// sends. Output lines are {"line","error"} objects.
func (s *Server) streamConsole(w http.ResponseWriter, r *http.Request) {
	inst, err := s.manager.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: raw}
	sink := func(l console.Line) error { return c.writeJSON(l) }

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	commands := make(chan string, 8)
	go readLoop(ctx, cancel, c, func(data []byte) {
		var cmd consoleCommand
		if err := decodeMessage(data, &cmd); err != nil {
			_ = sink(console.Line{Text: "Invalid console message", Error: true, Synthetic: true})
			return
		}
		select {
		case commands <- cmd.Command:
		default:
			_ = sink(console.Line{Text: "Too many pending commands", Error: true, Synthetic: true})
		}
	})

	go func() {
		for {
			select {
			case text := <-commands:
				if err := s.relay.SendCommand(ctx, inst.ID, text, sink); err != nil {
					_ = sink(console.Line{Text: err.Error(), Error: true, Synthetic: true})
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.ping(); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := s.relay.Attach(ctx, inst.ID, sink); err != nil {
		s.logger.Debug().Err(err).Str("instance", inst.CanonicalName).Msg("Console stream ended")
	}
	// keep the socket open for commands until the client leaves
	<-ctx.Done()
	c.close(websocket.CloseNormalClosure, "")
}
