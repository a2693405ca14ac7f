package comandas

import "fmt"

const (
	// ReasonPlatoNotPending rejects removing a line past pedido.
	ReasonPlatoNotPending = "plato_not_pending"
	// ReasonPlatoAlreadyRemoved rejects removing a line twice.
	ReasonPlatoAlreadyRemoved = "plato_already_removed"
	// ReasonComandaNotPending rejects deleting a comanda with lines past pedido.
	ReasonComandaNotPending = "comanda_not_pending"
	// ReasonComandaInactive rejects mutating a soft-deleted comanda.
	ReasonComandaInactive = "comanda_inactive"
)

// PolicyViolation reports a rejected mutation with a machine-readable reason.
// It is returned, never thrown; the mutation is not applied at all.
type PolicyViolation struct {
	Reason    string
	ComandaID string
	PlatoID   string
}

func (v *PolicyViolation) Error() string {
	if v.PlatoID != "" {
		return fmt.Sprintf("comandas: policy violation %s (comanda %s, plato %s)", v.Reason, v.ComandaID, v.PlatoID)
	}
	return fmt.Sprintf("comandas: policy violation %s (comanda %s)", v.Reason, v.ComandaID)
}

// ActivePlatos returns the non-deleted lines of a comanda. Deleted lines are
// excluded from every state derivation and total computation.
func ActivePlatos(comanda Comanda) []Plato {
	active := make([]Plato, 0, len(comanda.Platos))
	for _, plato := range comanda.Platos {
		if plato.Borrado {
			continue
		}
		active = append(active, plato)
	}
	return active
}

// DeriveComandaEstado computes the comanda status its active lines imply.
// A server-declared pagado is terminal and trusted verbatim. Any mix that
// satisfies neither the entregado nor the recoger rule is pedido-equivalent;
// the caller self-heals by using the derived value, never by mutating the
// server.
func DeriveComandaEstado(comanda Comanda) Estado {
	if comanda.Estado == EstadoPagado {
		return EstadoPagado
	}
	active := ActivePlatos(comanda)
	if len(active) == 0 {
		return comanda.Estado
	}
	allEntregado := true
	allRecogerOrLater := true
	for _, plato := range active {
		rank := EstadoRank(plato.Estado)
		if plato.Estado != EstadoEntregado && plato.Estado != EstadoPagado {
			allEntregado = false
		}
		if rank < EstadoRank(EstadoRecoger) {
			allRecogerOrLater = false
		}
	}
	if allEntregado {
		return EstadoEntregado
	}
	if allRecogerOrLater {
		return EstadoRecoger
	}
	return EstadoPedido
}

// mesaEstadoForComanda maps a derived comanda state onto the mesa display
// scale: cooking keeps the mesa at pedido, everything ready to collect shows
// preparado, a fully delivered comanda leaves the mesa waiting for the bill.
func mesaEstadoForComanda(estado Estado) MesaEstado {
	switch estado {
	case EstadoRecoger:
		return MesaPreparado
	case EstadoEntregado:
		return MesaEsperando
	case EstadoPagado:
		return MesaPagado
	}
	return MesaPedido
}

func mesaEstadoRank(estado MesaEstado) int {
	switch estado {
	case MesaLibre:
		return 0
	case MesaPedido:
		return 1
	case MesaPreparado:
		return 2
	case MesaEsperando:
		return 3
	case MesaPagando:
		return 4
	case MesaPagado:
		return 5
	}
	return -1
}

// DeriveMesaEstado computes the mesa display state from its active comandas,
// taking the maximum-priority comanda state. A pagado comanda short-circuits
// the mesa to pagado regardless of line contents; payment completion is the
// server's call.
func DeriveMesaEstado(activas []Comanda) MesaEstado {
	derived := MesaLibre
	for _, comanda := range activas {
		if !comanda.Activa {
			continue
		}
		if comanda.Estado == EstadoPagado {
			return MesaPagado
		}
		candidate := mesaEstadoForComanda(DeriveComandaEstado(comanda))
		if mesaEstadoRank(candidate) > mesaEstadoRank(derived) {
			derived = candidate
		}
	}
	return derived
}

// CanRemovePlato reports whether a dish line may be removed from its
// comanda. A line is removable only while pedido; recoger and later are
// immutable deletions.
func CanRemovePlato(comanda Comanda, plato Plato) *PolicyViolation {
	if !comanda.Activa {
		return &PolicyViolation{Reason: ReasonComandaInactive, ComandaID: comanda.ComandaID, PlatoID: plato.PlatoID}
	}
	if plato.Borrado {
		return &PolicyViolation{Reason: ReasonPlatoAlreadyRemoved, ComandaID: comanda.ComandaID, PlatoID: plato.PlatoID}
	}
	if plato.Estado != EstadoPedido {
		return &PolicyViolation{Reason: ReasonPlatoNotPending, ComandaID: comanda.ComandaID, PlatoID: plato.PlatoID}
	}
	return nil
}

// CanDeleteComanda reports whether a comanda may be deleted wholesale.
// Deletion requires every active line to still be pedido.
func CanDeleteComanda(comanda Comanda) *PolicyViolation {
	if !comanda.Activa {
		return &PolicyViolation{Reason: ReasonComandaInactive, ComandaID: comanda.ComandaID}
	}
	for _, plato := range ActivePlatos(comanda) {
		if plato.Estado != EstadoPedido {
			return &PolicyViolation{Reason: ReasonComandaNotPending, ComandaID: comanda.ComandaID, PlatoID: plato.PlatoID}
		}
	}
	return nil
}

// ComandaTotal sums price times quantity over the active lines.
func ComandaTotal(comanda Comanda) float64 {
	var total float64
	for _, plato := range ActivePlatos(comanda) {
		total += plato.Precio * float64(plato.Cantidad)
	}
	return total
}
