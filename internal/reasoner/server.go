package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// Server is the proxy backend: the job server decides the next step via
// POST /api/mitchell/navigate and bills tokens back through tokens_used.
type Server struct {
	baseURL string
	shopID  string
	client  *http.Client
}

// NewServer creates the server-proxy backend. Decisions route to the first
// configured job server.
func NewServer(cfg *config.Config) *Server {
	base := ""
	if len(cfg.ServerURLs) > 0 {
		base = cfg.ServerURLs[0]
	}
	return &Server{
		baseURL: base,
		shopID:  cfg.ShopID,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Backend returns the backend name.
func (s *Server) Backend() string { return config.BackendServer }

type navigateRequest struct {
	RequestID string `json:"request_id"`
	ShopID    string `json:"shop_id"`
	Goal      string `json:"goal"`
	State     any    `json:"state"`
	Step      int    `json:"step"`
}

type navigateResponse struct {
	Action *struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	} `json:"action"`
	TokensUsed int    `json:"tokens_used"`
	Error      string `json:"error"`
}

// Decide forwards the page state to the job server and returns its decision.
func (s *Server) Decide(ctx context.Context, req *Request) (*Decision, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("server reasoner backend has no server URL configured")
	}

	body, err := json.Marshal(navigateRequest{
		RequestID: req.RequestID,
		ShopID:    s.shopID,
		Goal:      req.Goal,
		State:     req.PageState,
		Step:      req.Step,
	})
	if err != nil {
		return nil, err
	}

	return withRetry(ctx, s.Backend(), func() (*Decision, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.baseURL+"/api/mitchell/navigate", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("navigate endpoint returned 429")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: navigate endpoint returned %d", types.ErrServerError, resp.StatusCode)
		}

		var nav navigateResponse
		if err := json.NewDecoder(resp.Body).Decode(&nav); err != nil {
			return nil, types.NewReasonerProtocolError(s.Backend(), req.Step, "undecodable navigate response: "+err.Error())
		}
		if nav.Error != "" {
			return nil, types.NewReasonerProtocolError(s.Backend(), req.Step, nav.Error)
		}
		if nav.Action == nil || nav.Action.Tool == "" {
			// No action means the server has nothing to decide; abort signal.
			return &Decision{TokensUsed: nav.TokensUsed}, nil
		}

		return &Decision{
			Call:       &ToolCall{Name: nav.Action.Tool, Args: nav.Action.Args},
			TokensUsed: nav.TokensUsed,
		}, nil
	})
}
