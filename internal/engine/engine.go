package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/comandas"
)

const (
	opApply   = "engine.apply"
	opRefresh = "engine.refresh"

	reasonDecodeFailed    = "decode_failed"
	reasonMissingEntity   = "missing_entity"
	reasonUnknownEvent    = "unknown_event"
	reasonBackwardIgnored = "backward_transition_ignored"
	reasonStatusMismatch  = "status_mismatch"
)

var (
	errMissingRefresher = errors.New("engine: refresher is required")
	noOpLogger          = zap.NewNop()
)

// EngineError carries an operation.reason code and wraps the cause.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error { return e.err }

// Code returns the operation.reason code.
func (e *EngineError) Code() string { return e.code }

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Refresher is the external data-fetch collaborator the engine falls back
// to when a patch cannot be safely applied.
type Refresher interface {
	Refresh(ctx context.Context) ([]comandas.Mesa, []comandas.Comanda, error)
}

const (
	defaultDebounceWindow = 750 * time.Millisecond
	defaultCacheTTL       = 30 * time.Second
)

// Config carries the engine dependencies.
type Config struct {
	Refresher      Refresher
	DebounceWindow time.Duration
	CacheTTL       time.Duration
	Clock          func() time.Time
	Logger         *zap.Logger
}

type verifyEntry struct {
	fingerprint string
	estado      comandas.Estado
	expiresAt   time.Time
}

// Engine merges inbound events into the local mesa/comanda collections.
// Strategy order per event: full-object replace, targeted patch, debounced
// fallback refetch. All events are applied on one sequential timeline; the
// mutex only guards snapshot readers.
type Engine struct {
	refresher      Refresher
	debounceWindow time.Duration
	cacheTTL       time.Duration
	clock          func() time.Time
	logger         *zap.Logger

	mu           sync.Mutex
	mesas        map[string]comandas.Mesa
	comandas     map[string]comandas.Comanda
	verify       map[string]verifyEntry
	refreshTimer *time.Timer

	registry *registry
}

// New validates the configuration and returns an empty engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Refresher == nil {
		return nil, errMissingRefresher
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = defaultDebounceWindow
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		refresher:      cfg.Refresher,
		debounceWindow: cfg.DebounceWindow,
		cacheTTL:       cfg.CacheTTL,
		clock:          clock,
		logger:         logger,
		mesas:          make(map[string]comandas.Mesa),
		comandas:       make(map[string]comandas.Comanda),
		verify:         make(map[string]verifyEntry),
		registry:       newRegistry(),
	}, nil
}

// Subscribe returns a stream of change notices plus a cancel func. Detach
// on subscriber teardown to avoid leaks; the context cancels implicitly.
func (e *Engine) Subscribe(ctx context.Context) (<-chan Notice, func()) {
	return e.registry.subscribe(ctx)
}

// Apply routes one inbound event to its reconciliation strategy. Malformed
// or unresolvable payloads fall back to a debounced refetch and are
// reported, never panicked; the pipeline keeps running.
func (e *Engine) Apply(ctx context.Context, event string, data json.RawMessage) error {
	switch event {
	case EventMesaActualizada:
		return e.applyMesaActualizada(data)
	case EventComandaActualizada:
		return e.applyComandaActualizada(data)
	case EventPlatoActualizado:
		return e.applyPlatoActualizado(data)
	case EventNuevaComanda:
		return e.applyNuevaComanda(data)
	case EventComandaEliminada:
		return e.applyComandaEliminada(data)
	case EventComandaRevertida:
		return e.applyComandaRevertida(data)
	case EventPlatoAgregado, EventPlatoEntregado:
		// Trigger-only events; the payload is not trusted beyond ids.
		e.scheduleRefresh()
		return nil
	case EventSocketStatus:
		return e.applySocketStatus(data)
	}
	e.logWarn(opApply, reasonUnknownEvent, nil, zap.String("event", event))
	return newEngineError(opApply, reasonUnknownEvent, fmt.Errorf("event %q", event))
}

func (e *Engine) applyMesaActualizada(data json.RawMessage) error {
	var payload MesaActualizadaPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Mesa == nil || payload.Mesa.MesaID == "" {
		e.logWarn(opApply, reasonDecodeFailed, err, zap.String("event", EventMesaActualizada))
		e.scheduleRefresh()
		return newEngineError(opApply, reasonDecodeFailed, err)
	}
	mesa := *payload.Mesa
	e.mu.Lock()
	e.mesas[mesa.MesaID] = mesa
	activas := e.comandasForMesaLocked(mesa.MesaID)
	derived := comandas.DeriveMesaEstado(activas)
	e.mu.Unlock()
	// Without local comandas the derivation is vacuously libre; comparing
	// it against the server value would flood the log on startup.
	if len(activas) > 0 && derived != mesa.Estado {
		// Derived routes, server value displays.
		e.logWarn(opApply, reasonStatusMismatch, nil,
			zap.String("mesa_id", mesa.MesaID),
			zap.String("server_estado", string(mesa.Estado)),
			zap.String("derived_estado", string(derived)))
	}
	e.registry.publish(Notice{Kind: NoticeMesa, MesaID: mesa.MesaID})
	return nil
}

func (e *Engine) applyComandaActualizada(data json.RawMessage) error {
	var payload ComandaActualizadaPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		e.logWarn(opApply, reasonDecodeFailed, err, zap.String("event", EventComandaActualizada))
		e.scheduleRefresh()
		return newEngineError(opApply, reasonDecodeFailed, err)
	}
	if payload.Comanda == nil || payload.Comanda.ComandaID == "" {
		// Partial payload; resolve through a full refetch.
		e.scheduleRefresh()
		return nil
	}
	e.storeComanda(*payload.Comanda)
	return nil
}

func (e *Engine) applyNuevaComanda(data json.RawMessage) error {
	var payload NuevaComandaPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Comanda == nil || payload.Comanda.ComandaID == "" {
		e.logWarn(opApply, reasonDecodeFailed, err, zap.String("event", EventNuevaComanda))
		e.scheduleRefresh()
		return newEngineError(opApply, reasonDecodeFailed, err)
	}
	e.storeComanda(*payload.Comanda)
	return nil
}

// storeComanda is the full-object replace path: overwrite by identity,
// insert when new. Always safe, preferred whenever the server provides it.
func (e *Engine) storeComanda(comanda comandas.Comanda) {
	e.mu.Lock()
	e.comandas[comanda.ComandaID] = comanda
	delete(e.verify, comanda.ComandaID)
	e.mu.Unlock()
	e.registry.publish(Notice{Kind: NoticeComanda, MesaID: comanda.MesaID, ComandaID: comanda.ComandaID})
}

func (e *Engine) applyPlatoActualizado(data json.RawMessage) error {
	var payload PlatoActualizadoPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ComandaID == "" || payload.PlatoID == "" {
		e.logWarn(opApply, reasonDecodeFailed, err, zap.String("event", EventPlatoActualizado))
		e.scheduleRefresh()
		return newEngineError(opApply, reasonDecodeFailed, err)
	}

	e.mu.Lock()
	comanda, ok := e.comandas[payload.ComandaID]
	if !ok {
		e.mu.Unlock()
		e.logWarn(opApply, reasonMissingEntity, nil, zap.String("comanda_id", payload.ComandaID))
		e.scheduleRefresh()
		return nil
	}
	index := -1
	for i := range comanda.Platos {
		if comanda.Platos[i].PlatoID == payload.PlatoID && !comanda.Platos[i].Borrado {
			index = i
			break
		}
	}
	if index < 0 {
		e.mu.Unlock()
		e.logWarn(opApply, reasonMissingEntity, nil,
			zap.String("comanda_id", payload.ComandaID),
			zap.String("plato_id", payload.PlatoID))
		e.scheduleRefresh()
		return nil
	}

	line := &comanda.Platos[index]
	currentRank := comandas.EstadoRank(line.Estado)
	targetRank := comandas.EstadoRank(payload.NuevoEstado)
	if targetRank < 0 {
		e.mu.Unlock()
		e.logWarn(opApply, reasonDecodeFailed, nil, zap.String("nuevo_estado", string(payload.NuevoEstado)))
		e.scheduleRefresh()
		return nil
	}
	if targetRank == currentRank {
		// Already at the target value; idempotent no-op, no side effects.
		e.mu.Unlock()
		return nil
	}
	if targetRank < currentRank {
		// A line only moves forward; backward needs the explicit revert event.
		e.mu.Unlock()
		e.logWarn(opApply, reasonBackwardIgnored, nil,
			zap.String("comanda_id", payload.ComandaID),
			zap.String("plato_id", payload.PlatoID),
			zap.String("from", string(line.Estado)),
			zap.String("to", string(payload.NuevoEstado)))
		return nil
	}

	line.Estado = payload.NuevoEstado
	line.Marcas = append(line.Marcas, comandas.EstadoMarca{Estado: payload.NuevoEstado, Timestamp: payload.Timestamp})
	comanda.Estado = e.deriveCachedLocked(comanda)
	e.comandas[comanda.ComandaID] = comanda
	mesaID := comanda.MesaID
	e.mu.Unlock()

	e.registry.publish(Notice{Kind: NoticeComanda, MesaID: mesaID, ComandaID: payload.ComandaID})
	return nil
}

func (e *Engine) applyComandaEliminada(data json.RawMessage) error {
	var payload ComandaEliminadaPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		e.logWarn(opApply, reasonDecodeFailed, err, zap.String("event", EventComandaEliminada))
		e.scheduleRefresh()
		return newEngineError(opApply, reasonDecodeFailed, err)
	}
	if payload.ComandaID == "" || payload.ComandasRestantes == nil {
		// Without the empty-result marker this is an update, not a removal;
		// never erase state on a partial payload.
		e.scheduleRefresh()
		return nil
	}
	e.mu.Lock()
	removed, existed := e.comandas[payload.ComandaID]
	delete(e.comandas, payload.ComandaID)
	delete(e.verify, payload.ComandaID)
	mesaID := payload.MesaID
	if mesaID == "" && existed {
		mesaID = removed.MesaID
	}
	if mesaID != "" && *payload.ComandasRestantes == 0 {
		if mesa, ok := e.mesas[mesaID]; ok {
			mesa.Estado = comandas.MesaLibre
			e.mesas[mesaID] = mesa
		}
	}
	e.mu.Unlock()
	e.registry.publish(Notice{Kind: NoticeComanda, MesaID: mesaID, ComandaID: payload.ComandaID})
	return nil
}

func (e *Engine) applyComandaRevertida(data json.RawMessage) error {
	var payload ComandaRevertidaPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Comanda == nil {
		e.logWarn(opApply, reasonDecodeFailed, err, zap.String("event", EventComandaRevertida))
		e.scheduleRefresh()
		return newEngineError(opApply, reasonDecodeFailed, err)
	}
	// Administrative revert: accepted verbatim, the one sanctioned backward
	// transition.
	e.mu.Lock()
	e.comandas[payload.Comanda.ComandaID] = *payload.Comanda
	delete(e.verify, payload.Comanda.ComandaID)
	if payload.Mesa != nil && payload.Mesa.MesaID != "" {
		e.mesas[payload.Mesa.MesaID] = *payload.Mesa
	}
	e.mu.Unlock()
	e.registry.publish(Notice{Kind: NoticeComanda, MesaID: payload.Comanda.MesaID, ComandaID: payload.Comanda.ComandaID})
	return nil
}

func (e *Engine) applySocketStatus(data json.RawMessage) error {
	var payload SocketStatusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return newEngineError(opApply, reasonDecodeFailed, err)
	}
	e.logger.Debug("server heartbeat", zap.Bool("connected", payload.Connected))
	return nil
}

// ReplaceAll swaps both collections for freshly fetched state. Used by the
// fallback polling loop and the debounced refetch.
func (e *Engine) ReplaceAll(mesas []comandas.Mesa, all []comandas.Comanda) {
	e.mu.Lock()
	e.mesas = make(map[string]comandas.Mesa, len(mesas))
	for _, mesa := range mesas {
		e.mesas[mesa.MesaID] = mesa
	}
	e.comandas = make(map[string]comandas.Comanda, len(all))
	for _, comanda := range all {
		e.comandas[comanda.ComandaID] = comanda
	}
	e.verify = make(map[string]verifyEntry)
	e.mu.Unlock()
	e.registry.publish(Notice{Kind: NoticeRefresh})
}

// scheduleRefresh debounces fallback refetches: multiple triggers within
// the window collapse into a single refresh.
func (e *Engine) scheduleRefresh() {
	e.mu.Lock()
	if e.refreshTimer != nil {
		e.mu.Unlock()
		return
	}
	e.refreshTimer = time.AfterFunc(e.debounceWindow, e.runRefresh)
	e.mu.Unlock()
}

func (e *Engine) runRefresh() {
	e.mu.Lock()
	e.refreshTimer = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	mesas, all, err := e.refresher.Refresh(ctx)
	if err != nil {
		e.logWarn(opRefresh, "refetch_failed", err)
		return
	}
	e.ReplaceAll(mesas, all)
}

// Mesas returns a snapshot sorted by display number.
func (e *Engine) Mesas() []comandas.Mesa {
	e.mu.Lock()
	defer e.mu.Unlock()
	mesas := make([]comandas.Mesa, 0, len(e.mesas))
	for _, mesa := range e.mesas {
		mesas = append(mesas, mesa)
	}
	sort.Slice(mesas, func(i, j int) bool { return mesas[i].Numero < mesas[j].Numero })
	return mesas
}

// MesaByID returns a mesa snapshot by identity.
func (e *Engine) MesaByID(mesaID string) (comandas.Mesa, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mesa, ok := e.mesas[mesaID]
	return mesa, ok
}

// ComandaByID returns a comanda snapshot by identity. The snapshot owns
// its line storage; later targeted patches never mutate it.
func (e *Engine) ComandaByID(comandaID string) (comandas.Comanda, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	comanda, ok := e.comandas[comandaID]
	if !ok {
		return comandas.Comanda{}, false
	}
	return cloneComanda(comanda), true
}

// ComandasForMesa returns the active comandas bound to a mesa, oldest
// first. Each element owns its line storage.
func (e *Engine) ComandasForMesa(mesaID string) []comandas.Comanda {
	e.mu.Lock()
	defer e.mu.Unlock()
	matched := e.comandasForMesaLocked(mesaID)
	for i := range matched {
		matched[i] = cloneComanda(matched[i])
	}
	return matched
}

// MesaRoutingEstado is the derived mesa state used for routing decisions;
// the stored server value stays authoritative for display.
func (e *Engine) MesaRoutingEstado(mesaID string) comandas.MesaEstado {
	e.mu.Lock()
	defer e.mu.Unlock()
	return comandas.DeriveMesaEstado(e.comandasForMesaLocked(mesaID))
}

func (e *Engine) comandasForMesaLocked(mesaID string) []comandas.Comanda {
	matched := make([]comandas.Comanda, 0, 4)
	for _, comanda := range e.comandas {
		if comanda.MesaID == mesaID && comanda.Activa {
			matched = append(matched, comanda)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreadaEnSeconds < matched[j].CreadaEnSeconds
	})
	return matched
}

// deriveCachedLocked re-derives a comanda status through the time-boxed
// verification cache. The cache only skips redundant derivation work; it is
// not correctness-bearing.
func (e *Engine) deriveCachedLocked(comanda comandas.Comanda) comandas.Estado {
	fingerprint := comandaFingerprint(comanda)
	now := e.clock()
	if entry, ok := e.verify[comanda.ComandaID]; ok && entry.fingerprint == fingerprint && now.Before(entry.expiresAt) {
		return entry.estado
	}
	derived := comandas.DeriveComandaEstado(comanda)
	e.verify[comanda.ComandaID] = verifyEntry{
		fingerprint: fingerprint,
		estado:      derived,
		expiresAt:   now.Add(e.cacheTTL),
	}
	return derived
}

// cloneComanda detaches a snapshot from the stored value: the Platos slice
// and every per-line Marcas slice get their own backing arrays, so in-place
// patches cannot reach an already-returned snapshot.
func cloneComanda(comanda comandas.Comanda) comandas.Comanda {
	platos := make([]comandas.Plato, len(comanda.Platos))
	copy(platos, comanda.Platos)
	for i := range platos {
		if len(platos[i].Marcas) == 0 {
			continue
		}
		marcas := make([]comandas.EstadoMarca, len(platos[i].Marcas))
		copy(marcas, platos[i].Marcas)
		platos[i].Marcas = marcas
	}
	comanda.Platos = platos
	return comanda
}

func comandaFingerprint(comanda comandas.Comanda) string {
	var b strings.Builder
	b.WriteString(string(comanda.Estado))
	for _, plato := range comanda.Platos {
		b.WriteByte('|')
		if plato.Borrado {
			b.WriteByte('x')
		}
		b.WriteString(string(plato.Estado))
	}
	return b.String()
}

func (e *Engine) logWarn(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Warn("reconciliation issue", attrs...)
}
