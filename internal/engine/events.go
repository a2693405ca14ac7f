package engine

import (
	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/comandas"
)

// Inbound event names, preserved bit-exact for wire compatibility.
const (
	EventMesaActualizada    = "mesa-actualizada"
	EventComandaActualizada = "comanda-actualizada"
	EventPlatoActualizado   = "plato-actualizado"
	EventPlatoAgregado      = "plato-agregado"
	EventPlatoEntregado     = "plato-entregado"
	EventNuevaComanda       = "nueva-comanda"
	EventComandaEliminada   = "comanda-eliminada"
	EventComandaRevertida   = "comanda-revertida"
	EventSocketStatus       = "socket-status"
)

// EventNames lists every inbound event the engine consumes.
func EventNames() []string {
	return []string{
		EventMesaActualizada,
		EventComandaActualizada,
		EventPlatoActualizado,
		EventPlatoAgregado,
		EventPlatoEntregado,
		EventNuevaComanda,
		EventComandaEliminada,
		EventComandaRevertida,
		EventSocketStatus,
	}
}

// MesaActualizadaPayload carries a full mesa replacement.
type MesaActualizadaPayload struct {
	MesaID string         `json:"mesaId"`
	Mesa   *comandas.Mesa `json:"mesa"`
}

// ComandaActualizadaPayload may carry the complete comanda; when absent the
// engine falls back to a refetch.
type ComandaActualizadaPayload struct {
	ComandaID string            `json:"comandaId"`
	Comanda   *comandas.Comanda `json:"comanda,omitempty"`
}

// PlatoActualizadoPayload is the targeted patch path: one line, its new
// state and the server timestamp.
type PlatoActualizadoPayload struct {
	MesaID      string          `json:"mesaId"`
	ComandaID   string          `json:"comandaId"`
	PlatoID     string          `json:"platoId"`
	NuevoEstado comandas.Estado `json:"nuevoEstado"`
	Timestamp   int64           `json:"timestamp"`
}

// NuevaComandaPayload announces a comanda created by any client.
type NuevaComandaPayload struct {
	Comanda *comandas.Comanda `json:"comanda"`
}

// ComandaEliminadaPayload removes a comanda only when the empty-result
// marker (ComandasRestantes) is present; otherwise the engine resolves via
// refetch rather than erasing state on a partial payload.
type ComandaEliminadaPayload struct {
	MesaID            string `json:"mesaId,omitempty"`
	ComandaID         string `json:"comandaId,omitempty"`
	ComandasRestantes *int   `json:"comandasRestantes,omitempty"`
}

// ComandaRevertidaPayload is the explicit administrative backward
// transition, accepted verbatim.
type ComandaRevertidaPayload struct {
	ComandaID string            `json:"comandaId"`
	Comanda   *comandas.Comanda `json:"comanda"`
	Mesa      *comandas.Mesa    `json:"mesa"`
}

// SocketStatusPayload is the server's connection heartbeat echo.
type SocketStatusPayload struct {
	Connected bool `json:"connected"`
}
