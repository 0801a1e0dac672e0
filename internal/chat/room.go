package chat

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Broadcaster delivers a frame to every connected client except one.
type Broadcaster interface {
	BroadcastExcept(exclude, text string)
}

// Room relays chat envelopes between the clients of one server and tracks
// which username each client joined with.
type Room struct {
	log     zerolog.Logger
	mu      sync.Mutex
	members map[string]string // client id -> username
}

// NewRoom creates an empty room.
func NewRoom(log zerolog.Logger) *Room {
	return &Room{
		log:     log,
		members: make(map[string]string),
	}
}

// HandleMessage decodes one envelope from clientID and relays it to the other
// clients. Frames that are not envelopes are dropped.
func (r *Room) HandleMessage(b Broadcaster, clientID, text string) {
	var msg Message
	if err := msg.Decode(text); err != nil {
		r.log.Warn().Err(err).Str("client", clientID).Msg("Dropping malformed message")
		return
	}

	r.mu.Lock()
	switch msg.Type {
	case MessageTypeJoin:
		r.members[clientID] = msg.Sender
	case MessageTypeLeave:
		if name, ok := r.members[clientID]; ok {
			msg.Sender = name
		}
		delete(r.members, clientID)
	default:
		// Text is attributed to the joined name, not whatever the frame claims.
		if name, ok := r.members[clientID]; ok {
			msg.Sender = name
		}
	}
	r.mu.Unlock()

	switch msg.Type {
	case MessageTypeJoin:
		r.log.Info().Str("client", clientID).Str("username", msg.Sender).Msg("User joined")
	case MessageTypeLeave:
		r.log.Info().Str("client", clientID).Str("username", msg.Sender).Msg("User left")
	}
	r.relay(b, clientID, msg)
}

// HandleDisconnect announces a leave for a client that disconnected without
// sending one.
func (r *Room) HandleDisconnect(b Broadcaster, clientID string) {
	r.mu.Lock()
	name, ok := r.members[clientID]
	delete(r.members, clientID)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.log.Info().Str("client", clientID).Str("username", name).Msg("User dropped")
	r.relay(b, clientID, Message{Type: MessageTypeLeave, Sender: name})
}

// Members returns the joined usernames in sorted order.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.members))
	for _, name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Room) relay(b Broadcaster, from string, msg Message) {
	text, err := msg.Encode()
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encode message")
		return
	}
	b.BroadcastExcept(from, text)
}
