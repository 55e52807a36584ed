package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

const headerSessionID = "Mcp-Session-Id"

var ErrNoSession = errors.New("no session: call Initialize first")

// RPCError is a JSON-RPC error reply, with the HTTP status it arrived with
type RPCError struct {
	Status  int
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// ToolResult is the subset of a tools/call result the client prints
type ToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// Text joins the text parts of the result
func (r ToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ResourceResult is a resources/read result with text contents
type ResourceResult struct {
	Contents []struct {
		URI      string `json:"uri"`
		MIMEType string `json:"mimeType"`
		Text     string `json:"text"`
	} `json:"contents"`
}

// Client drives one MCP session against the HTTP router
type Client struct {
	endpoint  string
	sessionID string
	client    *http.Client
	nextID    atomic.Int64
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SessionID is the id assigned by Initialize, or "" before it
func (c *Client) SessionID() string {
	return c.sessionID
}

// Initialize opens a session and sends notifications/initialized
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) (*mcp.InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities":    map[string]any{},
		"clientInfo":      mcp.Implementation{Name: clientName, Version: clientVersion},
	}
	resp, raw, err := c.request(ctx, "initialize", params)
	if err != nil {
		return nil, err
	}

	sid := resp.Header.Get(headerSessionID)
	if sid == "" {
		return nil, errors.New("initialize: response carried no session id")
	}
	c.sessionID = sid

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "parse initialize result")
	}

	if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Notify sends a notification; the router answers 202 with no body
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if c.sessionID == "" {
		return ErrNoSession
	}
	msg := map[string]any{"jsonrpc": mcp.JSONRPC_VERSION, "method": method}
	if params != nil {
		msg["params"] = params
	}
	resp, body, err := c.post(ctx, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return errorFromReply(resp.StatusCode, body)
	}
	return nil
}

// Call sends a request and decodes its result into out
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	if c.sessionID == "" {
		return ErrNoSession
	}
	_, raw, err := c.request(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "parse %s result", method)
}

// ListTools returns the tools the session exposes
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var result mcp.ListToolsResult
	if err := c.Call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool by name
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	var result ToolResult
	err := c.Call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, &result)
	return result, err
}

// ReadResource reads a resource by URI
func (c *Client) ReadResource(ctx context.Context, uri string) (ResourceResult, error) {
	var result ResourceResult
	err := c.Call(ctx, "resources/read", map[string]any{"uri": uri}, &result)
	return result, err
}

// Terminate ends the session with DELETE
func (c *Client) Terminate(ctx context.Context) error {
	if c.sessionID == "" {
		return ErrNoSession
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set(headerSessionID, c.sessionID)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "terminate session")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errorFromReply(resp.StatusCode, body)
	}
	c.sessionID = ""
	return nil
}

// request sends a JSON-RPC request and returns the raw result
func (c *Client) request(ctx context.Context, method string, params any) (*http.Response, json.RawMessage, error) {
	msg := map[string]any{
		"jsonrpc": mcp.JSONRPC_VERSION,
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	}
	resp, body, err := c.post(ctx, msg)
	if err != nil {
		return nil, nil, err
	}

	var reply struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, nil, errors.Wrapf(err, "parse %s reply (HTTP %d)", method, resp.StatusCode)
	}
	if reply.Error != nil {
		return nil, nil, &RPCError{Status: resp.StatusCode, Code: reply.Error.Code, Message: reply.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Errorf("%s: unexpected HTTP %d", method, resp.StatusCode)
	}
	return resp, reply.Result, nil
}

func (c *Client) post(ctx context.Context, msg any) (*http.Response, []byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.sessionID != "" {
		req.Header.Set(headerSessionID, c.sessionID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "post")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read response")
	}
	return resp, body, nil
}

func errorFromReply(status int, body []byte) error {
	var reply struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &reply) == nil && reply.Error != nil {
		return &RPCError{Status: status, Code: reply.Error.Code, Message: reply.Error.Message}
	}
	return errors.Errorf("unexpected HTTP %d: %s", status, strings.TrimSpace(string(body)))
}
