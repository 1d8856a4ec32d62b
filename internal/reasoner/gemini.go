package reasoner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// Gemini is the hosted cloud backend. It supports vision: a screenshot is
// attached inline as PNG.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the Gemini backend from configuration.
func NewGemini(cfg *config.Config) (*Gemini, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.GeminiModel}, nil
}

// Backend returns the backend name.
func (g *Gemini) Backend() string { return config.BackendGemini }

// Decide asks the model for the next tool call. Temperature is pinned to 0
// and tool calling is forced, so a well-behaved model always returns exactly
// one function call.
func (g *Gemini) Decide(ctx context.Context, req *Request) (*Decision, error) {
	contents := g.buildContents(req)
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0)),
		Tools:       toGeminiTools(req.Tools),
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAny,
			},
		},
	}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}

	return withRetry(ctx, g.Backend(), func() (*Decision, error) {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
		if err != nil {
			return nil, err
		}
		return g.extractDecision(req.Step, resp)
	})
}

func (g *Gemini) buildContents(req *Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Turns)+1)
	for _, turn := range req.Turns {
		role := genai.RoleUser
		if turn.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(turn.Content)},
		})
	}

	if len(req.Screenshot) > 0 {
		contents = append(contents, &genai.Content{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromText("Current page screenshot:"),
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: req.Screenshot}},
			},
		})
	}
	return contents
}

func (g *Gemini) extractDecision(step int, resp *genai.GenerateContentResponse) (*Decision, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, types.NewReasonerProtocolError(g.Backend(), step, "empty response")
	}

	decision := &Decision{}
	if resp.UsageMetadata != nil {
		decision.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			decision.Call = &ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
			return decision, nil
		}
		if part.Text != "" {
			decision.Text += part.Text
		}
	}

	// Text-only response: the navigator treats it as an abort signal.
	log.Debug().Str("text", decision.Text).Msg("Gemini returned text instead of a tool call")
	return decision, nil
}

// toGeminiTools converts the fixed tool schema to Gemini declarations.
func toGeminiTools(tools []ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema),
		}
		for _, p := range tool.Params {
			prop := &genai.Schema{Description: p.Description}
			switch p.Type {
			case "integer":
				prop.Type = genai.TypeInteger
			case "array":
				prop.Type = genai.TypeArray
				prop.Items = &genai.Schema{Type: genai.TypeString}
			default:
				prop.Type = genai.TypeString
			}
			schema.Properties[p.Name] = prop
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}
