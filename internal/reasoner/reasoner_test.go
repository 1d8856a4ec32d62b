package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), false},
		{errors.New("API returned 429"), true},
		{errors.New("Rate limit exceeded"), true},
		{errors.New("RESOURCE_EXHAUSTED: quota"), true},
		{errors.New("Too Many Requests"), true},
	}
	for _, tt := range tests {
		if got := isRateLimited(tt.err); got != tt.want {
			t.Errorf("isRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWithRetryPassesThroughSuccess(t *testing.T) {
	var calls atomic.Int32
	want := &Decision{Call: &ToolCall{Name: "select_year"}}

	got, err := withRetry(context.Background(), "test", func() (*Decision, error) {
		calls.Add(1)
		return want, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Error("decision not passed through")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestWithRetryNonRateLimitFailsFast(t *testing.T) {
	var calls atomic.Int32
	wantErr := errors.New("auth failure")

	_, err := withRetry(context.Background(), "test", func() (*Decision, error) {
		calls.Add(1)
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
	if calls.Load() != 1 {
		t.Errorf("non-rate-limit errors must not retry, calls = %d", calls.Load())
	}
}

func TestWithRetryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := withRetry(ctx, "test", func() (*Decision, error) {
		return nil, errors.New("429 slow down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("canceled retry should return without sleeping out the backoff")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{ReasonerBackend: "clippy"}
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestServerDecide(t *testing.T) {
	var gotBody navigateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mitchell/navigate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"action":      map[string]any{"tool": "select_make", "args": map[string]any{"make": "Ford"}},
			"tokens_used": 57,
		})
	}))
	defer srv.Close()

	s := NewServer(&config.Config{ServerURLs: []string{srv.URL}, ShopID: "shop-9"})
	decision, err := s.Decide(context.Background(), &Request{
		RequestID: "r1",
		Goal:      "2018 Ford F-150",
		Step:      3,
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotBody.ShopID != "shop-9" || gotBody.RequestID != "r1" || gotBody.Step != 3 {
		t.Errorf("request body = %+v", gotBody)
	}
	if decision.Call == nil || decision.Call.Name != "select_make" {
		t.Fatalf("decision = %+v", decision)
	}
	if decision.Call.Args["make"] != "Ford" {
		t.Errorf("args = %v", decision.Call.Args)
	}
	if decision.TokensUsed != 57 {
		t.Errorf("tokens = %d, want 57", decision.TokensUsed)
	}
}

func TestServerDecideErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "unknown goal"})
	}))
	defer srv.Close()

	s := NewServer(&config.Config{ServerURLs: []string{srv.URL}, ShopID: "shop-9"})
	_, err := s.Decide(context.Background(), &Request{RequestID: "r1"})
	if !errors.Is(err, types.ErrReasonerProtocol) {
		t.Errorf("got %v, want ErrReasonerProtocol", err)
	}
}

func TestServerDecideNoAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tokens_used": 10})
	}))
	defer srv.Close()

	s := NewServer(&config.Config{ServerURLs: []string{srv.URL}, ShopID: "shop-9"})
	decision, err := s.Decide(context.Background(), &Request{RequestID: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Call != nil {
		t.Error("no action should yield a call-less decision")
	}
	if decision.TokensUsed != 10 {
		t.Errorf("tokens = %d", decision.TokensUsed)
	}
}

func TestToGeminiToolsShape(t *testing.T) {
	tools := toGeminiTools([]ToolSpec{{
		Name:        "select_year",
		Description: "Select the model year",
		Params: []Param{
			{Name: "year", Type: "integer", Description: "4-digit year", Required: true},
		},
	}})
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools = %+v", tools)
	}
	decl := tools[0].FunctionDeclarations[0]
	if decl.Name != "select_year" {
		t.Errorf("name = %s", decl.Name)
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "year" {
		t.Errorf("required = %v", decl.Parameters.Required)
	}
}

func TestToOpenAIToolsShape(t *testing.T) {
	tools := toOpenAITools([]ToolSpec{{
		Name:   "confirm_vehicle",
		Params: nil,
	}})
	if len(tools) != 1 {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].Function.Name != "confirm_vehicle" {
		t.Errorf("name = %s", tools[0].Function.Name)
	}
}
