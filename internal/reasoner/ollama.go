package reasoner

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/autoshop-tools/mitchell-agent-go/internal/config"
	"github.com/autoshop-tools/mitchell-agent-go/internal/types"
)

// Ollama is the local backend: an OpenAI-compatible tool-calling endpoint.
// Screenshots are dropped; local models here are text-only.
type Ollama struct {
	client *openai.Client
	model  string
}

// NewOllama creates the Ollama backend from configuration.
func NewOllama(cfg *config.Config) *Ollama {
	clientConfig := openai.DefaultConfig("ollama") // key is unused but must be non-empty
	clientConfig.BaseURL = cfg.OllamaURL
	return &Ollama{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.OllamaModel,
	}
}

// Backend returns the backend name.
func (o *Ollama) Backend() string { return config.BackendOllama }

// Decide asks the local model for the next tool call.
func (o *Ollama) Decide(ctx context.Context, req *Request) (*Decision, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.Turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 0,
		Tools:       toOpenAITools(req.Tools),
		ToolChoice:  "required",
	}

	return withRetry(ctx, o.Backend(), func() (*Decision, error) {
		resp, err := o.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, err
		}
		return o.extractDecision(req.Step, resp)
	})
}

func (o *Ollama) extractDecision(step int, resp openai.ChatCompletionResponse) (*Decision, error) {
	if len(resp.Choices) == 0 {
		return nil, types.NewReasonerProtocolError(o.Backend(), step, "no choices in response")
	}

	decision := &Decision{TokensUsed: resp.Usage.TotalTokens}
	msg := resp.Choices[0].Message

	if len(msg.ToolCalls) == 0 {
		decision.Text = msg.Content
		return decision, nil
	}

	call := msg.ToolCalls[0]
	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, types.NewReasonerProtocolError(o.Backend(), step, "unparseable tool arguments: "+err.Error())
		}
	}
	decision.Call = &ToolCall{Name: call.Function.Name, Args: args}
	return decision, nil
}

// toOpenAITools converts the fixed tool schema to OpenAI function tools.
func toOpenAITools(tools []ToolSpec) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		props := make(map[string]jsonschema.Definition, len(tool.Params))
		var required []string
		for _, p := range tool.Params {
			def := jsonschema.Definition{Description: p.Description}
			switch p.Type {
			case "integer":
				def.Type = jsonschema.Integer
			case "array":
				def.Type = jsonschema.Array
				def.Items = &jsonschema.Definition{Type: jsonschema.String}
			default:
				def.Type = jsonschema.String
			}
			props[p.Name] = def
			if p.Required {
				required = append(required, p.Name)
			}
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters: jsonschema.Definition{
					Type:       jsonschema.Object,
					Properties: props,
					Required:   required,
				},
			},
		})
	}
	return result
}
