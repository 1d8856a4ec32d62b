// Package poller pulls pending requests from every configured job server
// and routes claims and results back to the server each request came from.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autoshop-tools/mitchell-agent-go/internal/metrics"
	"github.com/autoshop-tools/mitchell-agent-go/internal/security"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

const requestTimeout = 30 * time.Second

// ServerClient talks to one job server.
type ServerClient struct {
	baseURL string
	shopID  string
	client  *http.Client
}

// NewServerClient builds a client for one server URL.
func NewServerClient(baseURL, shopID string) *ServerClient {
	return &ServerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		shopID:  shopID,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// BaseURL returns the server address this client talks to.
func (c *ServerClient) BaseURL() string { return c.baseURL }

// GetPending fetches this server's pending requests for the shop. An empty
// response body means no work.
func (c *ServerClient) GetPending(ctx context.Context) ([]*types.Request, error) {
	url := fmt.Sprintf("%s/api/mitchell/pending/%s", c.baseURL, c.shopID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pending fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: pending returned %d", types.ErrServerError, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pending body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var pending types.PendingResponse
	if err := json.Unmarshal(body, &pending); err != nil {
		return nil, fmt.Errorf("pending decode: %w", err)
	}
	return pending.Requests, nil
}

// Claim attempts to take ownership of a request. A 404 means another agent
// won the race; that is a normal outcome, not an error.
func (c *ServerClient) Claim(ctx context.Context, requestID string) (bool, error) {
	url := fmt.Sprintf("%s/api/mitchell/claim/%s", c.baseURL, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: claim returned %d", types.ErrServerError, resp.StatusCode)
	}
}

// SubmitResult posts a completed result. The payload is the fixed whitelist
// built by Result.SubmitPayload.
func (c *ServerClient) SubmitResult(ctx context.Context, requestID string, result *types.Result) error {
	payload, err := json.Marshal(result.SubmitPayload())
	if err != nil {
		return fmt.Errorf("result encode: %w", err)
	}

	url := fmt.Sprintf("%s/api/mitchell/result/%s", c.baseURL, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSubmitFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: result returned %d", types.ErrSubmitFailed, resp.StatusCode)
	}
	return nil
}

// Poller sweeps every configured server and routes by origin.
type Poller struct {
	clients []*ServerClient
}

// New builds a poller over the configured server URLs.
func New(serverURLs []string, shopID string) *Poller {
	clients := make([]*ServerClient, 0, len(serverURLs))
	for _, u := range serverURLs {
		clients = append(clients, NewServerClient(u, shopID))
	}
	return &Poller{clients: clients}
}

// ServerCount returns the number of configured servers.
func (p *Poller) ServerCount() int { return len(p.clients) }

// GetAllPending sweeps every server. A failing server is logged and skipped
// so one outage cannot starve the others. Each returned request is tagged
// with its source server for later routing.
func (p *Poller) GetAllPending(ctx context.Context) ([]*types.Request, error) {
	var all []*types.Request
	var firstErr error
	answered := 0

	for _, client := range p.clients {
		requests, err := client.GetPending(ctx)
		if err != nil {
			log.Warn().
				Str("server", security.RedactServerURL(client.BaseURL())).
				Err(err).
				Msg("Pending fetch failed, skipping server this sweep")
			metrics.RecordPollSweep(client.BaseURL(), "error")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		answered++
		outcome := "empty"
		if len(requests) > 0 {
			outcome = "ok"
		}
		metrics.RecordPollSweep(client.BaseURL(), outcome)

		for _, req := range requests {
			if err := req.Validate(); err != nil {
				log.Warn().Str("request_id", req.ID).Err(err).Msg("Dropping invalid pending request")
				continue
			}
			req.SourceServer = client.BaseURL()
			all = append(all, req)
		}
	}

	// The sweep succeeds if any server answered, even with no work; the
	// error surfaces only when every server failed, feeding the agent's
	// error circuit.
	if answered == 0 && firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

// ClaimRequest routes the claim to the request's source server.
func (p *Poller) ClaimRequest(ctx context.Context, req *types.Request) (bool, error) {
	client := p.routeFor(req)
	claimed, err := client.Claim(ctx, req.ID)
	switch {
	case err != nil:
		metrics.RecordClaim("error")
	case claimed:
		metrics.RecordClaim("won")
	default:
		metrics.RecordClaim("lost")
	}
	return claimed, err
}

// SubmitResult routes the result to the request's source server.
func (p *Poller) SubmitResult(ctx context.Context, req *types.Request, result *types.Result) error {
	client := p.routeFor(req)
	if err := client.SubmitResult(ctx, req.ID, result); err != nil {
		log.Error().
			Str("request_id", req.ID).
			Str("server", security.RedactServerURL(client.BaseURL())).
			Err(err).
			Msg("Result submission failed")
		return err
	}
	return nil
}

// routeFor resolves the client for a request's origin. A missing source tag
// falls back to the first server; that should not happen for requests the
// poller itself fetched.
func (p *Poller) routeFor(req *types.Request) *ServerClient {
	if req.SourceServer != "" {
		for _, client := range p.clients {
			if client.BaseURL() == req.SourceServer {
				return client
			}
		}
	}
	log.Warn().
		Str("request_id", req.ID).
		Str("source", req.SourceServer).
		Msg("Request has no routable source server, using first configured server")
	return p.clients[0]
}
