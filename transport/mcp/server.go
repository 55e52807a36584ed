package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/userdirectory/core/sampling"
	"github.com/wricardo/mcp-training/userdirectory/core/service"
)

// Server identity advertised during initialize
const (
	ServerName    = "test"
	ServerVersion = "0.1"
)

const (
	usersURI        = "users://all"
	userProfileURI  = "users://{userId}/profile"
	jsonMIMEType    = "application/json"
	createdTemplate = "User %d created successfully"
)

// Handlers holds the business operations exposed as MCP tools, resources and prompts
type Handlers struct {
	svc    service.UserService
	logger zerolog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithLogger sets the logger used for handler failures.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// NewHandlers creates the handler set backed by svc
func NewHandlers(svc service.UserService, opts ...Option) *Handlers {
	h := &Handlers{
		svc:    svc,
		logger: log.Logger.With().Str("component", "mcp").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewServer builds a fresh MCP server carrying the handler set. Every
// conversation gets its own server.
func (h *Handlers) NewServer() *server.MCPServer {
	srv := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
		server.WithLogging(),
	)
	srv.EnableSampling()
	h.Register(srv)
	return srv
}

// Register adds every tool, resource and prompt to srv
func (h *Handlers) Register(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("create-user",
		mcp.WithDescription("Create a new user in the database"),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("email", mcp.Required()),
		mcp.WithString("address", mcp.Required()),
		mcp.WithString("phone", mcp.Required()),
		mcp.WithTitleAnnotation("Create User"),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	), h.handleCreateUser)

	srv.AddTool(mcp.NewTool("create-random-user",
		mcp.WithDescription("Create a random user with fake data"),
		mcp.WithTitleAnnotation("Create random user"),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	), h.handleCreateRandomUser(srv))

	srv.AddResource(mcp.NewResource(usersURI, "users",
		mcp.WithResourceDescription("Get all users data from the database"),
		mcp.WithMIMEType(jsonMIMEType),
	), h.handleUsers)

	srv.AddResourceTemplate(mcp.NewResourceTemplate(userProfileURI, "user-details",
		mcp.WithTemplateDescription("Get a user's details from the database"),
		mcp.WithTemplateMIMEType(jsonMIMEType),
	), h.handleUserProfile)

	srv.AddPrompt(mcp.NewPrompt("generate-fake-user",
		mcp.WithPromptDescription("Generate a fake user based on a given name"),
		mcp.WithArgument("name", mcp.RequiredArgument()),
	), h.handleFakeUserPrompt)
}

// Tool handlers

func (h *Handlers) handleCreateUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var u service.NewUser
	var err error
	if u.Name, err = request.RequireString("name"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if u.Email, err = request.RequireString("email"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if u.Address, err = request.RequireString("address"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if u.Phone, err = request.RequireString("phone"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	user, err := h.svc.CreateUser(ctx, u)
	if err != nil {
		return h.failure(ctx, "create-user", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(createdTemplate, user.ID)), nil
}

func (h *Handlers) handleCreateRandomUser(srv *server.MCPServer) server.ToolHandlerFunc {
	sampler := NewSampler(srv)
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := h.svc.CreateRandomUser(ctx, sampler)
		if err != nil {
			return h.failure(ctx, "create-random-user", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(createdTemplate, user.ID)), nil
	}
}

// failure logs err in full and returns the caller-safe text as a tool error
func (h *Handlers) failure(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	ev := h.logger.Warn().Err(err).Str("tool", tool).Str("kind", string(service.KindOf(err)))
	if session := server.ClientSessionFromContext(ctx); session != nil {
		ev = ev.Str("session_id", session.SessionID())
	}
	ev.Msg("tool call failed")
	return mcp.NewToolResultError(service.Public(err))
}

// Resource handlers

func (h *Handlers) handleUsers(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	users, err := h.svc.ListUsers(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Str("uri", request.Params.URI).Msg("list users failed")
		return jsonContents(request.Params.URI, errorBody(service.Public(err)))
	}
	return jsonContents(request.Params.URI, users)
}

func (h *Handlers) handleUserProfile(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	raw := templateArg(request.Params.Arguments, "userId")
	notFound := errorBody(fmt.Sprintf("User %s not found", raw))

	id, err := strconv.Atoi(raw)
	if err != nil {
		return jsonContents(request.Params.URI, notFound)
	}
	user, err := h.svc.GetUser(ctx, id)
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		return jsonContents(request.Params.URI, notFound)
	case err != nil:
		h.logger.Warn().Err(err).Str("uri", request.Params.URI).Msg("get user failed")
		return jsonContents(request.Params.URI, errorBody(service.Public(err)))
	}
	return jsonContents(request.Params.URI, user)
}

// Prompt handlers

func (h *Handlers) handleFakeUserPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Arguments["name"]
	if name == "" {
		return nil, errors.New("name is required")
	}
	return mcp.NewGetPromptResult(
		"Generate a fake user based on a given name",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(service.FakeUserPrompt(name))),
		},
	), nil
}

// NewSampler adapts the client-facing sampling of srv to service.Sampler.
// The conversation engine decides whether the client or a server-side
// provider answers.
func NewSampler(srv *server.MCPServer) service.Sampler {
	return service.SamplerFunc(func(ctx context.Context, req service.SampleRequest) (string, error) {
		result, err := srv.RequestSampling(ctx, sampling.NewTextRequest(req.Prompt, req.MaxTokens))
		if err != nil {
			return "", errors.Wrap(err, "request sampling")
		}
		text, err := sampling.Text(result)
		if errors.Is(err, sampling.ErrNonTextContent) {
			return "", service.ErrNonTextSample
		}
		if err != nil {
			return "", err
		}
		return text, nil
	})
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode resource")
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: jsonMIMEType, Text: string(data)},
	}, nil
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// templateArg reads a URI template variable; mcp-go passes matched values as []string
func templateArg(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []any:
		if len(v) > 0 {
			s, _ := v[0].(string)
			return s
		}
	}
	return ""
}
