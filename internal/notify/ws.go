package notify

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSHandler streams bus events to the notification collaborator. The stream
// requires the same internal token the admin feed endpoints use, passed as a
// query parameter.
type WSHandler struct {
	bus           *Bus
	internalToken string
	origin        string
	upgrader      websocket.Upgrader
	log           zerolog.Logger
}

func NewWSHandler(bus *Bus, internalToken, origin string, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		bus:           bus,
		internalToken: internalToken,
		origin:        origin,
		log:           log.With().Str("component", "notify").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	return strings.EqualFold(r.Header.Get("Origin"), origin)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != h.internalToken {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	// Reader goroutine only to detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Debug().Err(err).Msg("subscriber write failed")
				return
			}
		}
	}
}
