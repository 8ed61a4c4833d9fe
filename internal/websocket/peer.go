package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader accepts browser and terminal clients. Origin checks happen in the
// HTTP layer's CORS configuration.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and attaches the peer to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, storyID, userID, username string) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	p := &Peer{
		Hub:      h,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		StoryID:  storyID,
		UserID:   userID,
		Username: username,
	}
	select {
	case h.Register <- p:
	case <-h.done:
		conn.Close()
		return ErrHubStopped
	}

	go p.WritePump()
	go p.ReadPump()
	return nil
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (p *Peer) ReadPump() {
	defer func() {
		select {
		case p.Hub.Unregister <- p:
		case <-p.Hub.done:
		}
		p.Conn.Close()
	}()

	p.Conn.SetReadLimit(maxFrameSize)
	p.Conn.SetReadDeadline(time.Now().Add(pongWait))
	p.Conn.SetPongHandler(func(string) error {
		p.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := p.Conn.ReadMessage()
		if err != nil {
			// Only log if it's not a normal close (code 1000 from navigation)
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.Hub.log.Warn("peer read error", "story_id", p.StoryID, "user_id", p.UserID, "error", err)
			}
			break
		}
		select {
		case p.Hub.inbound <- inbound{peer: p, raw: message}:
		case <-p.Hub.done:
			return
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.Send:
			p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := p.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(p.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-p.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
