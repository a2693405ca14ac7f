package rooms

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/transport"
)

const (
	eventJoinMesa  = "join-mesa"
	eventLeaveMesa = "leave-mesa"
)

type joinPayload struct {
	MesaID string `json:"mesaId"`
}

// Sender is the outbound half of the transport the membership needs.
type Sender interface {
	Send(event string, payload any)
}

// Membership tracks which mesa-scoped rooms the client has announced
// interest in. Joins issued while disconnected are remembered and reissued
// once the transport reconnects, so the UI never re-drives the join
// sequence after a drop.
type Membership struct {
	sender Sender
	logger *zap.Logger

	mu        sync.Mutex
	desired   map[string]struct{}
	connected bool
}

// New returns an empty membership bound to the given sender.
func New(sender Sender, logger *zap.Logger) *Membership {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Membership{
		sender:  sender,
		logger:  logger,
		desired: make(map[string]struct{}),
	}
}

// Join announces interest in a mesa room. Idempotent; deferred while
// disconnected.
func (m *Membership) Join(mesaID string) {
	if mesaID == "" {
		return
	}
	m.mu.Lock()
	_, already := m.desired[mesaID]
	m.desired[mesaID] = struct{}{}
	connected := m.connected
	m.mu.Unlock()
	if already {
		return
	}
	if connected {
		m.sender.Send(eventJoinMesa, joinPayload{MesaID: mesaID})
	} else {
		m.logger.Debug("join deferred until reconnect", zap.String("mesa_id", mesaID))
	}
}

// Leave withdraws interest in a mesa room. Idempotent.
func (m *Membership) Leave(mesaID string) {
	if mesaID == "" {
		return
	}
	m.mu.Lock()
	_, member := m.desired[mesaID]
	delete(m.desired, mesaID)
	connected := m.connected
	m.mu.Unlock()
	if member && connected {
		m.sender.Send(eventLeaveMesa, joinPayload{MesaID: mesaID})
	}
}

// Rooms returns the desired membership in stable order.
func (m *Membership) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]string, 0, len(m.desired))
	for mesaID := range m.desired {
		rooms = append(rooms, mesaID)
	}
	sort.Strings(rooms)
	return rooms
}

// HandlePhase reacts to transport transitions. On connected it re-announces
// every desired room before general event processing resumes, so no
// mesa-scoped event is missed due to a not-yet-rejoined room.
func (m *Membership) HandlePhase(state transport.ConnectionState) {
	m.mu.Lock()
	wasConnected := m.connected
	m.connected = state.Connected
	rooms := make([]string, 0, len(m.desired))
	for mesaID := range m.desired {
		rooms = append(rooms, mesaID)
	}
	m.mu.Unlock()
	if !state.Connected || wasConnected {
		return
	}
	sort.Strings(rooms)
	for _, mesaID := range rooms {
		m.sender.Send(eventJoinMesa, joinPayload{MesaID: mesaID})
	}
	if len(rooms) > 0 {
		m.logger.Info("room membership re-announced", zap.Int("rooms", len(rooms)))
	}
}
