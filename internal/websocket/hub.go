package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"wove/internal/observability"
	"wove/internal/protocol"
)

// Peer represents one participant's WebSocket connection to the hub
type Peer struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	StoryID  string
	UserID   string
	Username string
}

// Outbound is a message addressed to the peers of one story.
// Only restricts delivery to a single peer; Except skips one.
type Outbound struct {
	StoryID string
	Message protocol.Message
	Only    *Peer
	Except  *Peer
}

// Handler owns the story semantics behind the hub. Its methods run on the
// hub goroutine, one at a time. Left reports whether the same user still has
// another peer in the story.
type Handler interface {
	Joined(p *Peer) []Outbound
	Left(p *Peer, userStillPresent bool) []Outbound
	Received(p *Peer, raw []byte) []Outbound
}

type inbound struct {
	peer *Peer
	raw  []byte
}

// Hub maintains active peers per story and fans messages out to them
type Hub struct {
	Rooms      map[string]map[*Peer]bool // storyID -> peers
	Broadcast  chan *Outbound
	Register   chan *Peer
	Unregister chan *Peer
	Mu         sync.RWMutex

	inbound chan inbound
	done    chan struct{}
	handler Handler
	log     *slog.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(handler Handler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = observability.Logger()
	}
	return &Hub{
		Rooms:      make(map[string]map[*Peer]bool),
		Broadcast:  make(chan *Outbound, 256),
		Register:   make(chan *Peer),
		Unregister: make(chan *Peer),
		inbound:    make(chan inbound, 256),
		done:       make(chan struct{}),
		handler:    handler,
		log:        logger.With("component", "hub"),
	}
}

// Publish queues a message for every peer of a story. Safe from any goroutine
// other than the handler's.
func (h *Hub) Publish(out Outbound) {
	select {
	case h.Broadcast <- &out:
	case <-h.done:
	}
}

// PeerCount returns how many peers are connected to a story.
func (h *Hub) PeerCount(storyID string) int {
	h.Mu.RLock()
	defer h.Mu.RUnlock()
	return len(h.Rooms[storyID])
}

// Run starts the hub's message processing loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.Mu.Lock()
			for storyID, peers := range h.Rooms {
				for p := range peers {
					close(p.Send)
				}
				delete(h.Rooms, storyID)
			}
			h.Mu.Unlock()
			return

		case p := <-h.Register:
			h.Mu.Lock()
			if h.Rooms[p.StoryID] == nil {
				h.Rooms[p.StoryID] = make(map[*Peer]bool)
			}
			h.Rooms[p.StoryID][p] = true
			h.Mu.Unlock()
			h.log.Info("peer joined", "story_id", p.StoryID, "user_id", p.UserID)
			h.deliver(h.handler.Joined(p))

		case p := <-h.Unregister:
			if h.remove(p) {
				h.log.Info("peer left", "story_id", p.StoryID, "user_id", p.UserID)
				h.deliver(h.handler.Left(p, h.userPresent(p.StoryID, p.UserID)))
			}

		case in := <-h.inbound:
			h.deliver(h.handler.Received(in.peer, in.raw))

		case out := <-h.Broadcast:
			h.deliver([]Outbound{*out})
		}
	}
}

func (h *Hub) userPresent(storyID, userID string) bool {
	h.Mu.RLock()
	defer h.Mu.RUnlock()
	for p := range h.Rooms[storyID] {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) remove(p *Peer) bool {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	peers, ok := h.Rooms[p.StoryID]
	if !ok || !peers[p] {
		return false
	}
	delete(peers, p)
	close(p.Send)
	if len(peers) == 0 {
		delete(h.Rooms, p.StoryID)
	}
	return true
}

func (h *Hub) deliver(outs []Outbound) {
	for _, out := range outs {
		frame := mustMarshal(out.Message)
		if frame == nil {
			continue
		}

		h.Mu.RLock()
		var targets []*Peer
		for p := range h.Rooms[out.StoryID] {
			if out.Only != nil && p != out.Only {
				continue
			}
			if p == out.Except {
				continue
			}
			targets = append(targets, p)
		}
		h.Mu.RUnlock()

		for _, p := range targets {
			select {
			case p.Send <- frame:
			default:
				h.log.Warn("peer send buffer full, dropping peer", "story_id", p.StoryID, "user_id", p.UserID)
				if h.remove(p) {
					h.deliver(h.handler.Left(p, h.userPresent(p.StoryID, p.UserID)))
				}
			}
		}
	}
}

func mustMarshal(m protocol.Message) []byte {
	b, err := protocol.Encode(m)
	if err != nil {
		observability.Logger().Error("failed to marshal outbound message", "type", m.Type(), "error", err)
		return nil
	}
	return b
}
