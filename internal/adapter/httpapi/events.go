package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agentroute/internal/domain"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// eventClient is one websocket subscriber to the lifecycle stream.
type eventClient struct {
	ws        *websocket.Conn
	sendCh    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *eventClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	})
}

// eventFilter selects events by workflow and type. Empty fields match all.
type eventFilter struct {
	workflowID string
	types      map[domain.EventType]bool
}

func parseEventFilter(r *http.Request) eventFilter {
	q := r.URL.Query()
	f := eventFilter{workflowID: q.Get("workflow_id")}
	if v := q.Get("type"); v != "" {
		f.types = make(map[domain.EventType]bool)
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[domain.EventType(t)] = true
			}
		}
	}
	return f
}

func (f eventFilter) match(ev domain.Event) bool {
	if f.workflowID != "" && ev.WorkflowID != f.workflowID {
		return false
	}
	if f.types != nil && !f.types[ev.Type] {
		return false
	}
	return true
}

// handleEvents upgrades to a websocket and streams matching events as JSON
// text frames until either side closes. Slow clients lose events rather than
// stalling the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.writeError(w, r, badRequest("events", "event stream is not configured"), nil)
		return
	}
	filter := parseEventFilter(r)
	connID := s.nextConn.Add(1)
	cc := &eventClient{
		sendCh: make(chan domain.Event, clientBuffer),
		done:   make(chan struct{}),
	}

	// Subscribe before the handshake completes so no event published after
	// the client sees the upgrade is missed.
	unsub := s.deps.Events.SubscribeAll(func(_ context.Context, ev domain.Event) {
		if !filter.match(ev) {
			return
		}
		select {
		case cc.sendCh <- ev:
		case <-cc.done:
		default:
			s.logger.Warn("dropped event for slow client", "conn_id", connID, "type", ev.Type)
		}
	})
	defer unsub()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	cc.ws = ws
	s.clients.Store(connID, cc)
	s.logger.Info("event stream connected", "conn_id", connID, "workflow_id", filter.workflowID)

	// The stream is write-only; CloseRead handles pings and the close frame.
	ctx := ws.CloseRead(r.Context())
	s.writeLoop(ctx, cc)

	s.clients.Delete(connID)
	cc.closeOnce.Do(func() {
		close(cc.done)
		ws.Close(websocket.StatusNormalClosure, "")
	})
	s.logger.Info("event stream disconnected", "conn_id", connID)
}

func (s *Server) writeLoop(ctx context.Context, cc *eventClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cc.done:
			return
		case ev := <-cc.sendCh:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, cc.ws, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
