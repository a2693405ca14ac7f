package comandas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Estado enumerates the lifecycle states shared by a Comanda and its Platos.
type Estado string

const (
	// EstadoPedido marks a line that is still pending in the kitchen.
	EstadoPedido Estado = "pedido"
	// EstadoRecoger marks a line that is ready to be collected.
	EstadoRecoger Estado = "recoger"
	// EstadoEntregado marks a line that reached the table.
	EstadoEntregado Estado = "entregado"
	// EstadoPagado marks a line settled by the server side.
	EstadoPagado Estado = "pagado"

	// estadoEnEspera is a legacy alias for EstadoPedido still emitted by
	// older server builds; it is folded into EstadoPedido at read time.
	estadoEnEspera = "en_espera"
)

// MesaEstado enumerates the display states of a Mesa.
type MesaEstado string

const (
	MesaLibre     MesaEstado = "libre"
	MesaPedido    MesaEstado = "pedido"
	MesaPreparado MesaEstado = "preparado"
	MesaEsperando MesaEstado = "esperando"
	MesaPagando   MesaEstado = "pagando"
	MesaPagado    MesaEstado = "pagado"
	MesaReservado MesaEstado = "reservado"
)

var (
	// ErrInvalidEstado indicates a state value outside the known lifecycle.
	ErrInvalidEstado = errors.New("comandas: invalid estado")
	// ErrInvalidCantidad indicates a dish line quantity below one.
	ErrInvalidCantidad = errors.New("comandas: cantidad must be at least 1")
)

// NormalizeEstado folds wire aliases into the canonical state set.
func NormalizeEstado(raw string) (Estado, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == estadoEnEspera {
		return EstadoPedido, nil
	}
	switch Estado(value) {
	case EstadoPedido, EstadoRecoger, EstadoEntregado, EstadoPagado:
		return Estado(value), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEstado, raw)
}

// UnmarshalJSON normalizes aliases so stored state never carries en_espera.
func (e *Estado) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	normalized, err := NormalizeEstado(raw)
	if err != nil {
		return err
	}
	*e = normalized
	return nil
}

// EstadoRank orders lifecycle states so forward-only transitions can be
// checked. Unknown states rank below every valid one.
func EstadoRank(estado Estado) int {
	switch estado {
	case EstadoPedido:
		return 0
	case EstadoRecoger:
		return 1
	case EstadoEntregado:
		return 2
	case EstadoPagado:
		return 3
	}
	return -1
}

// EstadoMarca records when a dish line reached a state.
type EstadoMarca struct {
	Estado    Estado `json:"estado"`
	Timestamp int64  `json:"timestamp"`
}

// Plato is one dish line inside a Comanda. The unit price is snapshotted
// when the order is taken and never re-fetched from the catalog.
type Plato struct {
	PlatoID       string        `json:"platoId,omitempty"`
	Numero        int           `json:"numero,omitempty"`
	Nombre        string        `json:"nombre,omitempty"`
	Estado        Estado        `json:"estado"`
	Cantidad      int           `json:"cantidad"`
	Precio        float64       `json:"precio"`
	Borrado       bool          `json:"borrado"`
	MotivoBorrado string        `json:"motivoBorrado,omitempty"`
	Marcas        []EstadoMarca `json:"marcas,omitempty"`
}

// Validate checks invariants the engine relies on.
func (p Plato) Validate() error {
	if p.Cantidad < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidCantidad, p.Cantidad)
	}
	if EstadoRank(p.Estado) < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidEstado, p.Estado)
	}
	return nil
}

// Comanda is one waiter-submitted ticket of dish lines tied to a Mesa.
type Comanda struct {
	ComandaID       string  `json:"comandaId"`
	Numero          int     `json:"numero"`
	MesaID          string  `json:"mesaId"`
	MozoID          string  `json:"mozoId,omitempty"`
	Estado          Estado  `json:"estado"`
	Platos          []Plato `json:"platos"`
	CreadaEnSeconds int64   `json:"creadaEn"`
	Activa          bool    `json:"activa"`
	ClienteID       string  `json:"clienteId,omitempty"`
}

// Mesa is a physical seating unit. The client never creates or deletes a
// Mesa; it only patches mutable fields on event receipt.
type Mesa struct {
	MesaID string     `json:"mesaId"`
	Numero int        `json:"numero"`
	Estado MesaEstado `json:"estado"`
	MozoID string     `json:"mozoId,omitempty"`
	ZonaID string     `json:"zonaId,omitempty"`
}
