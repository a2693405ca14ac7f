package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/comandas"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/engine"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/queue"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/rooms"
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/transport"
)

var (
	errMissingTransport = errors.New("syncer: transport is required")
	errMissingQueue     = errors.New("syncer: queue is required")
	errMissingRooms     = errors.New("syncer: room membership is required")
	errMissingEngine    = errors.New("syncer: engine is required")
	errMissingPoller    = errors.New("syncer: poller is required")
	errMissingMutator   = errors.New("syncer: mutator is required")
	errUnknownComanda   = errors.New("syncer: comanda not found locally")
	errUnknownPlato     = errors.New("syncer: plato not found locally")
)

const defaultPollInterval = 20 * time.Second

// EventTransport is the connection surface the controller drives.
type EventTransport interface {
	Connect(ctx context.Context)
	Send(event string, payload any)
	OnEvent(name string, handler transport.Handler)
	OnPhaseChange(observer transport.PhaseObserver)
	State() transport.ConnectionState
	Close()
}

// Poller fetches full collections while push delivery is down.
type Poller interface {
	Refresh(ctx context.Context) ([]comandas.Mesa, []comandas.Comanda, error)
}

// Mutator issues the outbound REST mutations. Local state is only updated
// by the echoed inbound event (push-confirms), never optimistically.
type Mutator interface {
	MarkPlato(ctx context.Context, comandaID, platoID string, estado comandas.Estado) error
	RemovePlato(ctx context.Context, comandaID, platoID, motivo string) error
	DeleteComanda(ctx context.Context, comandaID string) error
}

// Config carries the controller dependencies.
type Config struct {
	Transport    EventTransport
	Queue        *queue.Queue
	Rooms        *rooms.Membership
	Engine       *engine.Engine
	Poller       Poller
	Mutator      Mutator
	PollInterval time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Controller is the composition root of the sync core: it wires the
// transport to the queue, room membership and reconciliation engine, and
// exposes the single subscription API UI collaborators use. Exactly one
// controller is constructed per process; the composition root enforces
// that, not a language-level singleton.
type Controller struct {
	transport    EventTransport
	queue        *queue.Queue
	rooms        *rooms.Membership
	engine       *engine.Engine
	poller       Poller
	mutator      Mutator
	pollInterval time.Duration
	clock        func() time.Time
	logger       *zap.Logger

	mu         sync.Mutex
	baseCtx    context.Context
	pollCancel context.CancelFunc
}

// Status is the diagnostics snapshot served by the debug endpoint.
type Status struct {
	Connected  bool     `json:"connected"`
	Phase      string   `json:"phase"`
	Attempt    int      `json:"attempt"`
	QueueDepth int64    `json:"queue_depth"`
	Rooms      []string `json:"rooms"`
}

// New validates the configuration and returns a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	if cfg.Rooms == nil {
		return nil, errMissingRooms
	}
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if cfg.Poller == nil {
		return nil, errMissingPoller
	}
	if cfg.Mutator == nil {
		return nil, errMissingMutator
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		transport:    cfg.Transport,
		queue:        cfg.Queue,
		rooms:        cfg.Rooms,
		engine:       cfg.Engine,
		poller:       cfg.Poller,
		mutator:      cfg.Mutator,
		pollInterval: cfg.PollInterval,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Start registers the wire handlers and connects. Phase observers run in
// registration order: room re-joins flush first, then the offline queue
// drains, and only then does live event processing resume.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	for _, name := range engine.EventNames() {
		eventName := name
		c.transport.OnEvent(eventName, func(data json.RawMessage) {
			if err := c.engine.Apply(ctx, eventName, data); err != nil {
				c.logger.Warn("inbound event not applied",
					zap.String("event", eventName), zap.Error(err))
			}
		})
	}
	c.transport.OnPhaseChange(c.rooms.HandlePhase)
	c.transport.OnPhaseChange(c.handlePhase)

	c.transport.Connect(ctx)
	if !c.transport.State().Connected {
		c.startPolling()
	}
}

// Subscribe proxies the engine's change-notice stream.
func (c *Controller) Subscribe(ctx context.Context) (<-chan engine.Notice, func()) {
	return c.engine.Subscribe(ctx)
}

// Join announces interest in a mesa room; deferred joins are reissued on
// reconnect.
func (c *Controller) Join(mesaID string) { c.rooms.Join(mesaID) }

// Leave withdraws interest in a mesa room.
func (c *Controller) Leave(mesaID string) { c.rooms.Leave(mesaID) }

// MarkPlato requests a dish-line transition. While connected this goes
// straight to the server and the echoed event confirms it; while
// disconnected the observed intent is queued for replay.
func (c *Controller) MarkPlato(ctx context.Context, comandaID, platoID string, estado comandas.Estado) error {
	if c.transport.State().Connected {
		return c.mutator.MarkPlato(ctx, comandaID, platoID, estado)
	}
	payload := engine.PlatoActualizadoPayload{
		ComandaID:   comandaID,
		PlatoID:     platoID,
		NuevoEstado: estado,
		Timestamp:   c.clock().UTC().Unix(),
	}
	if comanda, ok := c.engine.ComandaByID(comandaID); ok {
		payload.MesaID = comanda.MesaID
	}
	c.logger.Info("transport down, queueing plato intent",
		zap.String("comanda_id", comandaID), zap.String("plato_id", platoID))
	return c.queue.Enqueue(ctx, engine.EventPlatoActualizado, payload)
}

// RemovePlato requests a dish-line removal after the state-machine gate. A
// policy violation is returned with its reason code and nothing is applied.
func (c *Controller) RemovePlato(ctx context.Context, comandaID, platoID, motivo string) error {
	comanda, ok := c.engine.ComandaByID(comandaID)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownComanda, comandaID)
	}
	var target *comandas.Plato
	for i := range comanda.Platos {
		if comanda.Platos[i].PlatoID == platoID {
			target = &comanda.Platos[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s", errUnknownPlato, platoID)
	}
	if violation := comandas.CanRemovePlato(comanda, *target); violation != nil {
		return violation
	}
	return c.mutator.RemovePlato(ctx, comandaID, platoID, motivo)
}

// DeleteComanda requests a wholesale deletion after the state-machine gate.
func (c *Controller) DeleteComanda(ctx context.Context, comandaID string) error {
	comanda, ok := c.engine.ComandaByID(comandaID)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownComanda, comandaID)
	}
	if violation := comandas.CanDeleteComanda(comanda); violation != nil {
		return violation
	}
	return c.mutator.DeleteComanda(ctx, comandaID)
}

// Status reports the diagnostics snapshot.
func (c *Controller) Status(ctx context.Context) Status {
	state := c.transport.State()
	depth, err := c.queue.Len(ctx)
	if err != nil {
		c.logger.Warn("queue depth unavailable", zap.Error(err))
	}
	return Status{
		Connected:  state.Connected,
		Phase:      string(state.Phase),
		Attempt:    state.Attempt,
		QueueDepth: depth,
		Rooms:      c.rooms.Rooms(),
	}
}

// Close stops polling and tears the transport down.
func (c *Controller) Close() {
	c.stopPolling()
	c.transport.Close()
}

func (c *Controller) handlePhase(state transport.ConnectionState) {
	if !state.Connected {
		c.startPolling()
		return
	}
	c.stopPolling()
	c.mu.Lock()
	ctx := c.baseCtx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := c.queue.Drain(ctx, c.drainHandlers())
	if err != nil {
		c.logger.Error("offline queue drain failed", zap.Error(err))
		return
	}
	if report.Applied+report.Failed+report.Skipped > 0 {
		c.logger.Info("offline queue drained",
			zap.Int("applied", report.Applied),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped))
	}
}

// drainHandlers replays queued intents through the same reconciliation
// paths live events use, so a just-reconnected client's pending local
// effects land before fresh server events.
func (c *Controller) drainHandlers() map[string]queue.Handler {
	handlers := make(map[string]queue.Handler, len(engine.EventNames()))
	for _, name := range engine.EventNames() {
		eventName := name
		handlers[eventName] = func(ctx context.Context, data json.RawMessage) error {
			return c.engine.Apply(ctx, eventName, data)
		}
	}
	return handlers
}

// startPolling launches the fallback polling loop. It runs only while the
// transport is down and stops the instant the phase turns connected, so
// there is never a second conflicting update source.
func (c *Controller) startPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollCancel != nil {
		return
	}
	base := c.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	c.pollCancel = cancel
	go c.pollLoop(ctx)
}

func (c *Controller) stopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	c.pollCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		mesas, all, err := c.poller.Refresh(ctx)
		if err != nil {
			c.logger.Warn("fallback poll failed", zap.Error(err))
			continue
		}
		c.engine.ReplaceAll(mesas, all)
	}
}
