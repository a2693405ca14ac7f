package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hgartemis3515/Las-Gambusinas-sub000/internal/comandas"
)

var (
	errMissingBaseURL = errors.New("rest: base url is required")
	// ErrUnknownOutcome marks a timed-out mutation. The caller must not
	// compensate locally; a corroborating event or a manual refresh settles
	// the real outcome.
	ErrUnknownOutcome = errors.New("rest: request timed out, outcome unknown")
)

const defaultTimeout = 10 * time.Second

// Config carries the HTTP collaborator settings.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	Logger    *zap.Logger
	// HTTPClient overrides the default client; tests inject their own.
	HTTPClient *http.Client
}

// Client is the outbound REST collaborator. Mutations follow the
// push-confirms pattern: the call itself does not update local state, the
// subsequent inbound event does.
type Client struct {
	baseURL    *url.URL
	authToken  string
	httpClient *http.Client
	logger     *zap.Logger
}

// New validates the configuration and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("rest: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    parsed,
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// FetchMesas retrieves the full mesa collection.
func (c *Client) FetchMesas(ctx context.Context) ([]comandas.Mesa, error) {
	var mesas []comandas.Mesa
	if err := c.getJSON(ctx, "/api/mesas", &mesas); err != nil {
		return nil, err
	}
	return mesas, nil
}

// FetchComandas retrieves every active comanda.
func (c *Client) FetchComandas(ctx context.Context) ([]comandas.Comanda, error) {
	var all []comandas.Comanda
	if err := c.getJSON(ctx, "/api/comandas", &all); err != nil {
		return nil, err
	}
	return all, nil
}

// Refresh fetches both collections; it is the engine's fallback refetch.
func (c *Client) Refresh(ctx context.Context) ([]comandas.Mesa, []comandas.Comanda, error) {
	mesas, err := c.FetchMesas(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := c.FetchComandas(ctx)
	if err != nil {
		return nil, nil, err
	}
	return mesas, all, nil
}

type markPlatoRequest struct {
	NuevoEstado comandas.Estado `json:"nuevoEstado"`
}

// MarkPlato requests a line-state transition server-side. Local state is
// only updated by the echoed plato-actualizado event.
func (c *Client) MarkPlato(ctx context.Context, comandaID, platoID string, estado comandas.Estado) error {
	path := fmt.Sprintf("/api/comandas/%s/platos/%s/estado", url.PathEscape(comandaID), url.PathEscape(platoID))
	return c.send(ctx, http.MethodPut, path, markPlatoRequest{NuevoEstado: estado})
}

type removePlatoRequest struct {
	Motivo string `json:"motivo,omitempty"`
}

// RemovePlato requests a line removal server-side.
func (c *Client) RemovePlato(ctx context.Context, comandaID, platoID, motivo string) error {
	path := fmt.Sprintf("/api/comandas/%s/platos/%s", url.PathEscape(comandaID), url.PathEscape(platoID))
	return c.send(ctx, http.MethodDelete, path, removePlatoRequest{Motivo: motivo})
}

// DeleteComanda requests a wholesale comanda deletion server-side.
func (c *Client) DeleteComanda(ctx context.Context, comandaID string) error {
	path := fmt.Sprintf("/api/comandas/%s", url.PathEscape(comandaID))
	return c.send(ctx, http.MethodDelete, path, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	request, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return c.classify(path, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("rest: GET %s returned %d", path, response.StatusCode)
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: body marshal failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	request, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return c.classify(path, err)
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("rest: %s %s returned %d", method, path, response.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := c.baseURL.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if c.authToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return request, nil
}

// classify maps timeouts to the unknown-outcome sentinel; everything else
// passes through.
func (c *Client) classify(path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("request timed out, outcome unknown", zap.String("path", path))
		return fmt.Errorf("%w: %s", ErrUnknownOutcome, path)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		c.logger.Warn("request timed out, outcome unknown", zap.String("path", path))
		return fmt.Errorf("%w: %s", ErrUnknownOutcome, path)
	}
	return err
}
