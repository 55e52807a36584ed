package sampling

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

var (
	ErrNoContent      = errors.New("sampling result has no content")
	ErrNonTextContent = errors.New("sampling result is not text")
)

// Provider answers sampling requests on the server side. It matches
// server.SamplingHandler so a Provider can also back in-process sessions.
type Provider interface {
	CreateMessage(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)

func (f ProviderFunc) CreateMessage(ctx context.Context, request mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	return f(ctx, request)
}

// NewTextRequest builds a single-message sampling request.
func NewTextRequest(prompt string, maxTokens int) mcp.CreateMessageRequest {
	return mcp.CreateMessageRequest{
		Request: mcp.Request{Method: string(mcp.MethodSamplingCreateMessage)},
		CreateMessageParams: mcp.CreateMessageParams{
			Messages: []mcp.SamplingMessage{
				{Role: mcp.RoleUser, Content: mcp.NewTextContent(prompt)},
			},
			MaxTokens: maxTokens,
		},
	}
}

// DecodeResult parses the result member of a client's sampling reply and
// converts the generic content map into a typed mcp content value.
func DecodeResult(raw json.RawMessage) (*mcp.CreateMessageResult, error) {
	var wire struct {
		Role       mcp.Role       `json:"role"`
		Content    map[string]any `json:"content"`
		Model      string         `json:"model"`
		StopReason string         `json:"stopReason"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(err, "decode sampling result")
	}
	if wire.Content == nil {
		return nil, ErrNoContent
	}
	content, err := mcp.ParseContent(wire.Content)
	if err != nil {
		return nil, errors.Wrap(err, "decode sampling content")
	}
	return &mcp.CreateMessageResult{
		SamplingMessage: mcp.SamplingMessage{Role: wire.Role, Content: content},
		Model:           wire.Model,
		StopReason:      wire.StopReason,
	}, nil
}

// Text extracts the text of a sampling result.
func Text(result *mcp.CreateMessageResult) (string, error) {
	if result == nil || result.Content == nil {
		return "", ErrNoContent
	}
	switch c := result.Content.(type) {
	case mcp.TextContent:
		return c.Text, nil
	case *mcp.TextContent:
		return c.Text, nil
	case map[string]any:
		if t, _ := c["type"].(string); t == mcp.ContentTypeText {
			text, _ := c["text"].(string)
			return text, nil
		}
	case string:
		return c, nil
	}
	return "", ErrNonTextContent
}
