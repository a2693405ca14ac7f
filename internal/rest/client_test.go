package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/comandas"
)

func mustClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:    server.URL,
		AuthToken:  "token-abc",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

func TestRefreshFetchesBothCollections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-abc" {
			t.Errorf("expected bearer header, got %q", got)
		}
		switch r.URL.Path {
		case "/api/mesas":
			json.NewEncoder(w).Encode([]comandas.Mesa{{MesaID: "mesa-1", Numero: 1, Estado: comandas.MesaLibre}})
		case "/api/comandas":
			json.NewEncoder(w).Encode([]comandas.Comanda{{ComandaID: "comanda-1", MesaID: "mesa-1", Estado: comandas.EstadoPedido, Activa: true}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	mesas, all, err := mustClient(t, server).Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(mesas) != 1 || mesas[0].MesaID != "mesa-1" {
		t.Fatalf("unexpected mesas %v", mesas)
	}
	if len(all) != 1 || all[0].ComandaID != "comanda-1" {
		t.Fatalf("unexpected comandas %v", all)
	}
}

func TestMarkPlatoSendsTargetedPut(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody markPlatoRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := mustClient(t, server).MarkPlato(context.Background(), "comanda-1", "p1", comandas.EstadoRecoger)
	if err != nil {
		t.Fatalf("mark plato: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/api/comandas/comanda-1/platos/p1/estado" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotBody.NuevoEstado != comandas.EstadoRecoger {
		t.Fatalf("expected nuevoEstado recoger, got %q", gotBody.NuevoEstado)
	}
}

func TestRemovePlatoSendsMotivo(t *testing.T) {
	var gotBody removePlatoRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := mustClient(t, server).RemovePlato(context.Background(), "comanda-1", "p1", "pedido por error")
	if err != nil {
		t.Fatalf("remove plato: %v", err)
	}
	if gotBody.Motivo != "pedido por error" {
		t.Fatalf("expected motivo forwarded, got %q", gotBody.Motivo)
	}
}

func TestServerErrorSurfacesStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	err := mustClient(t, server).DeleteComanda(context.Background(), "comanda-1")
	if err == nil {
		t.Fatalf("expected error for 409 response")
	}
	if errors.Is(err, ErrUnknownOutcome) {
		t.Fatalf("a definite rejection is not an unknown outcome: %v", err)
	}
}

func TestTimeoutMapsToUnknownOutcome(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client, err := New(Config{
		BaseURL:    server.URL,
		HTTPClient: &http.Client{Timeout: 50 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.MarkPlato(context.Background(), "comanda-1", "p1", comandas.EstadoRecoger); !errors.Is(err, ErrUnknownOutcome) {
		t.Fatalf("expected ErrUnknownOutcome, got %v", err)
	}
}
