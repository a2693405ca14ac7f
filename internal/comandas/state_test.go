package comandas

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustComanda(platos ...Plato) Comanda {
	return Comanda{
		ComandaID: "comanda-1",
		MesaID:    "mesa-1",
		Estado:    EstadoPedido,
		Platos:    platos,
		Activa:    true,
	}
}

func TestNormalizeEstadoFoldsLegacyAlias(t *testing.T) {
	estado, err := NormalizeEstado("en_espera")
	if err != nil {
		t.Fatalf("normalize en_espera: %v", err)
	}
	if estado != EstadoPedido {
		t.Fatalf("expected pedido, got %q", estado)
	}
}

func TestNormalizeEstadoRejectsUnknown(t *testing.T) {
	if _, err := NormalizeEstado("cancelado"); !errors.Is(err, ErrInvalidEstado) {
		t.Fatalf("expected ErrInvalidEstado, got %v", err)
	}
}

func TestEstadoUnmarshalNormalizesAlias(t *testing.T) {
	var plato Plato
	if err := json.Unmarshal([]byte(`{"estado":"en_espera","cantidad":2,"precio":10}`), &plato); err != nil {
		t.Fatalf("unmarshal plato: %v", err)
	}
	if plato.Estado != EstadoPedido {
		t.Fatalf("expected pedido after alias folding, got %q", plato.Estado)
	}
}

func TestEstadoRankOrdersLifecycle(t *testing.T) {
	order := []Estado{EstadoPedido, EstadoRecoger, EstadoEntregado, EstadoPagado}
	for i := 1; i < len(order); i++ {
		if EstadoRank(order[i-1]) >= EstadoRank(order[i]) {
			t.Fatalf("expected %q to rank below %q", order[i-1], order[i])
		}
	}
	if EstadoRank(Estado("cancelado")) != -1 {
		t.Fatalf("expected unknown estado to rank -1")
	}
}

func TestDeriveComandaEstadoAllDelivered(t *testing.T) {
	comanda := mustComanda(
		Plato{PlatoID: "p1", Estado: EstadoEntregado, Cantidad: 1},
		Plato{PlatoID: "p2", Estado: EstadoEntregado, Cantidad: 1},
	)
	if estado := DeriveComandaEstado(comanda); estado != EstadoEntregado {
		t.Fatalf("expected entregado, got %q", estado)
	}
}

func TestDeriveComandaEstadoIgnoresDeletedLines(t *testing.T) {
	comanda := mustComanda(
		Plato{PlatoID: "p1", Estado: EstadoEntregado, Cantidad: 1},
		Plato{PlatoID: "p2", Estado: EstadoPedido, Cantidad: 1, Borrado: true},
	)
	if estado := DeriveComandaEstado(comanda); estado != EstadoEntregado {
		t.Fatalf("expected deleted lines to be excluded, got %q", estado)
	}
}

func TestDeriveComandaEstadoAllReadyOrLater(t *testing.T) {
	comanda := mustComanda(
		Plato{PlatoID: "p1", Estado: EstadoRecoger, Cantidad: 1},
		Plato{PlatoID: "p2", Estado: EstadoEntregado, Cantidad: 1},
	)
	if estado := DeriveComandaEstado(comanda); estado != EstadoRecoger {
		t.Fatalf("expected recoger, got %q", estado)
	}
}

func TestDeriveComandaEstadoMixedFallsBackToPedido(t *testing.T) {
	comanda := mustComanda(
		Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1},
		Plato{PlatoID: "p2", Estado: EstadoEntregado, Cantidad: 1},
	)
	if estado := DeriveComandaEstado(comanda); estado != EstadoPedido {
		t.Fatalf("expected pedido, got %q", estado)
	}
}

func TestDeriveComandaEstadoTrustsServerPagado(t *testing.T) {
	comanda := mustComanda(Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1})
	comanda.Estado = EstadoPagado
	if estado := DeriveComandaEstado(comanda); estado != EstadoPagado {
		t.Fatalf("expected pagado to be terminal, got %q", estado)
	}
}

func TestDeriveComandaEstadoEmptyComandaKeepsDeclaredState(t *testing.T) {
	comanda := mustComanda()
	comanda.Estado = EstadoRecoger
	if estado := DeriveComandaEstado(comanda); estado != EstadoRecoger {
		t.Fatalf("expected declared state for empty comanda, got %q", estado)
	}
}

func TestDeriveMesaEstadoTakesHighestPriority(t *testing.T) {
	pending := mustComanda(Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1})
	delivered := mustComanda(Plato{PlatoID: "p2", Estado: EstadoEntregado, Cantidad: 1})
	delivered.ComandaID = "comanda-2"

	if estado := DeriveMesaEstado([]Comanda{pending, delivered}); estado != MesaEsperando {
		t.Fatalf("expected esperando, got %q", estado)
	}
}

func TestDeriveMesaEstadoPagadoShortCircuits(t *testing.T) {
	paid := mustComanda(Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1})
	paid.Estado = EstadoPagado
	pending := mustComanda(Plato{PlatoID: "p2", Estado: EstadoPedido, Cantidad: 1})
	pending.ComandaID = "comanda-2"

	if estado := DeriveMesaEstado([]Comanda{pending, paid}); estado != MesaPagado {
		t.Fatalf("expected pagado short-circuit, got %q", estado)
	}
}

func TestDeriveMesaEstadoNoActiveComandasIsLibre(t *testing.T) {
	inactive := mustComanda(Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1})
	inactive.Activa = false
	if estado := DeriveMesaEstado([]Comanda{inactive}); estado != MesaLibre {
		t.Fatalf("expected libre, got %q", estado)
	}
}

func TestCanRemovePlatoOnlyWhilePending(t *testing.T) {
	comanda := mustComanda(Plato{PlatoID: "p1", Estado: EstadoRecoger, Cantidad: 1})
	violation := CanRemovePlato(comanda, comanda.Platos[0])
	if violation == nil {
		t.Fatalf("expected violation for non-pending plato")
	}
	if violation.Reason != ReasonPlatoNotPending {
		t.Fatalf("expected reason %q, got %q", ReasonPlatoNotPending, violation.Reason)
	}

	comanda.Platos[0].Estado = EstadoPedido
	if violation := CanRemovePlato(comanda, comanda.Platos[0]); violation != nil {
		t.Fatalf("expected pending plato to be removable, got %v", violation)
	}
}

func TestCanRemovePlatoRejectsDoubleRemoval(t *testing.T) {
	comanda := mustComanda(Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1, Borrado: true})
	violation := CanRemovePlato(comanda, comanda.Platos[0])
	if violation == nil || violation.Reason != ReasonPlatoAlreadyRemoved {
		t.Fatalf("expected already-removed violation, got %v", violation)
	}
}

func TestCanDeleteComandaRequiresAllPending(t *testing.T) {
	comanda := mustComanda(
		Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1},
		Plato{PlatoID: "p2", Estado: EstadoRecoger, Cantidad: 1},
	)
	violation := CanDeleteComanda(comanda)
	if violation == nil || violation.Reason != ReasonComandaNotPending {
		t.Fatalf("expected not-pending violation, got %v", violation)
	}

	comanda.Platos[1].Estado = EstadoPedido
	if violation := CanDeleteComanda(comanda); violation != nil {
		t.Fatalf("expected all-pending comanda to be deletable, got %v", violation)
	}
}

func TestCanDeleteComandaIgnoresDeletedLines(t *testing.T) {
	comanda := mustComanda(
		Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1},
		Plato{PlatoID: "p2", Estado: EstadoEntregado, Cantidad: 1, Borrado: true},
	)
	if violation := CanDeleteComanda(comanda); violation != nil {
		t.Fatalf("expected deleted lines to be ignored, got %v", violation)
	}
}

func TestCanDeleteComandaRejectsInactive(t *testing.T) {
	comanda := mustComanda(Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 1})
	comanda.Activa = false
	violation := CanDeleteComanda(comanda)
	if violation == nil || violation.Reason != ReasonComandaInactive {
		t.Fatalf("expected inactive violation, got %v", violation)
	}
}

func TestComandaTotalSkipsDeletedLines(t *testing.T) {
	comanda := mustComanda(
		Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 2, Precio: 12.5},
		Plato{PlatoID: "p2", Estado: EstadoPedido, Cantidad: 1, Precio: 8},
		Plato{PlatoID: "p3", Estado: EstadoPedido, Cantidad: 3, Precio: 5, Borrado: true},
	)
	if total := ComandaTotal(comanda); total != 33 {
		t.Fatalf("expected total 33, got %v", total)
	}
}

func TestPlatoValidateRejectsZeroCantidad(t *testing.T) {
	plato := Plato{PlatoID: "p1", Estado: EstadoPedido, Cantidad: 0}
	if err := plato.Validate(); !errors.Is(err, ErrInvalidCantidad) {
		t.Fatalf("expected ErrInvalidCantidad, got %v", err)
	}
}
