package server

import (
	"net/http"

	"tradedesk/internal/domain"
	"tradedesk/internal/metrics"

	"github.com/gorilla/websocket"
)

// marketEvent is the JSON frame pushed to dashboard clients.
type marketEvent struct {
	Type string      `json:"type"` // snapshot | tick
	Tick domain.Tick `json:"tick"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the bearer token is the gate, not the origin
	},
}

// handleMarketWS streams live ticks to one dashboard client. The current
// quote board is sent first so the client paints without waiting a full
// feed interval.
func (s *Server) handleMarketWS(rw http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(rw, http.StatusServiceUnavailable, "market feed is disabled")
		return
	}

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()
	s.logger.Info("market stream client connected", "remote", r.RemoteAddr)

	ticks, cancel := s.feed.Subscribe()
	defer cancel()

	for _, symbol := range s.feed.Symbols() {
		tick, ok := s.feed.Last(symbol)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(marketEvent{Type: "snapshot", Tick: tick}); err != nil {
			return
		}
	}

	// Drain client frames so pings and close frames are processed; the
	// stream is one-way otherwise.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			s.logger.Info("market stream client disconnected", "remote", r.RemoteAddr)
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			if err := conn.WriteJSON(marketEvent{Type: "tick", Tick: tick}); err != nil {
				return
			}
		}
	}
}
