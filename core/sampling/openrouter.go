package sampling

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel   = "openai/gpt-5"
	DefaultReasoningEffort   = "minimal"
)

var ErrMissingAPIKey = errors.New("openrouter: missing API key")

// OpenRouterConfig configures the OpenRouter provider.
type OpenRouterConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	ReasoningEffort string
	Timeout         time.Duration
}

// OpenRouter is a Provider backed by the OpenRouter chat-completions API.
type OpenRouter struct {
	client *openai.Client
	cfg    OpenRouterConfig
}

// NewOpenRouter creates an OpenRouter provider, filling unset fields with defaults
func NewOpenRouter(cfg OpenRouterConfig) (*OpenRouter, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenRouterModel
	}
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = DefaultReasoningEffort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenRouter{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Model returns the model requests are sent to
func (p *OpenRouter) Model() string {
	return p.cfg.Model
}

// CreateMessage forwards the sampling request as a chat completion
func (p *OpenRouter) CreateMessage(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages)+1)
	if request.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: request.SystemPrompt,
		})
	}
	for _, m := range request.Messages {
		text, err := Text(&mcp.CreateMessageResult{SamplingMessage: m})
		if err != nil {
			return nil, errors.Wrap(err, "openrouter: only text messages are supported")
		}
		role := openai.ChatMessageRoleUser
		if m.Role == mcp.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: text})
	}

	req := openai.ChatCompletionRequest{
		Model:               p.cfg.Model,
		Messages:            messages,
		MaxCompletionTokens: request.MaxTokens,
		ReasoningEffort:     p.cfg.ReasoningEffort,
		Stop:                request.StopSequences,
	}
	if request.Temperature > 0 {
		req.Temperature = float32(request.Temperature)
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, errors.Wrapf(err, "openrouter: status %d", apiErr.HTTPStatusCode)
		}
		return nil, errors.Wrap(err, "openrouter: chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoContent
	}

	choice := resp.Choices[0]
	log.Debug().
		Str("component", "sampling").
		Str("model", resp.Model).
		Dur("took", time.Since(start)).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("openrouter completion")

	model := resp.Model
	if model == "" {
		model = p.cfg.Model
	}
	return &mcp.CreateMessageResult{
		SamplingMessage: mcp.SamplingMessage{
			Role:    mcp.RoleAssistant,
			Content: mcp.NewTextContent(choice.Message.Content),
		},
		Model:      model,
		StopReason: stopReason(choice.FinishReason),
	}, nil
}

func stopReason(r openai.FinishReason) string {
	switch r {
	case openai.FinishReasonStop:
		return "endTurn"
	case openai.FinishReasonLength:
		return "maxTokens"
	default:
		return string(r)
	}
}
