package sampling

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantErr  error
		nonText  bool
	}{
		{
			name:     "text",
			raw:      `{"role":"assistant","content":{"type":"text","text":"hi"},"model":"m","stopReason":"endTurn"}`,
			wantText: "hi",
		},
		{
			name:    "image",
			raw:     `{"role":"assistant","content":{"type":"image","data":"AAAA","mimeType":"image/png"},"model":"m"}`,
			nonText: true,
		},
		{
			name:    "missing content",
			raw:     `{"role":"assistant","model":"m"}`,
			wantErr: ErrNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodeResult(json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "m", res.Model)

			text, err := Text(res)
			if tt.nonText {
				assert.ErrorIs(t, err, ErrNonTextContent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestDecodeResult_UnknownContentType(t *testing.T) {
	_, err := DecodeResult(json.RawMessage(`{"role":"assistant","content":{"type":"video"}}`))
	assert.Error(t, err)
}

func TestNewTextRequest(t *testing.T) {
	req := NewTextRequest("make a user", 1024)
	assert.Equal(t, "sampling/createMessage", req.Method)
	assert.Equal(t, 1024, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, mcp.RoleUser, req.Messages[0].Role)

	text, err := Text(&mcp.CreateMessageResult{SamplingMessage: req.Messages[0]})
	require.NoError(t, err)
	assert.Equal(t, "make a user", text)
}

func TestText_Nil(t *testing.T) {
	_, err := Text(nil)
	assert.ErrorIs(t, err, ErrNoContent)
}
