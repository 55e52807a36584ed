// Command rpcclient walks one MCP session through the user directory's HTTP
// router: initialize, list tools, read users://all, optionally create a user,
// then terminate the session. The "sessions" subcommand prints the router's
// session diagnostics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rpcclient: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "rpcclient",
		Usage: "exercise a user directory MCP session over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:5000/rpc", Usage: "JSON-RPC endpoint", Sources: cli.EnvVars("RPC_URL")},
			&cli.DurationFlag{Name: "timeout", Value: 90 * time.Second, Usage: "per-request timeout"},
			&cli.BoolFlag{Name: "create", Usage: "call create-user with --name, --email, --address and --phone"},
			&cli.BoolFlag{Name: "random", Usage: "call create-random-user (needs a sampling provider)"},
			&cli.StringFlag{Name: "name", Value: "Charlie Brown"},
			&cli.StringFlag{Name: "email", Value: "charlie@test.com"},
			&cli.StringFlag{Name: "address", Value: "123 Main St, Omaha, NE"},
			&cli.StringFlag{Name: "phone", Value: "555-8765"},
			&cli.BoolFlag{Name: "keep", Usage: "leave the session open instead of sending DELETE"},
		},
		Action: walkAction,
		Commands: []*cli.Command{
			{
				Name:   "sessions",
				Usage:  "print the router's session diagnostics",
				Action: sessionsAction,
			},
		},
	}
}

func walkAction(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer
	c := NewClient(cmd.String("url"), cmd.Duration("timeout"))

	info, err := c.Initialize(ctx, "rpcclient", "1.0.0")
	if err != nil {
		return errors.Wrap(err, "initialize")
	}
	fmt.Fprintf(out, "✓ initialized %s %s (protocol %s)\n", info.ServerInfo.Name, info.ServerInfo.Version, info.ProtocolVersion)
	fmt.Fprintf(out, "  session: %s\n", c.SessionID())

	tools, err := c.ListTools(ctx)
	if err != nil {
		return errors.Wrap(err, "tools/list")
	}
	fmt.Fprintf(out, "✓ tools: %d\n", len(tools))
	for _, tool := range tools {
		fmt.Fprintf(out, "  - %s: %s\n", tool.Name, tool.Description)
	}

	users, err := c.ReadResource(ctx, "users://all")
	if err != nil {
		return errors.Wrap(err, "resources/read")
	}
	for _, content := range users.Contents {
		var list []json.RawMessage
		if err := json.Unmarshal([]byte(content.Text), &list); err != nil {
			return errors.Wrap(err, "parse users")
		}
		fmt.Fprintf(out, "✓ %s: %d users\n", content.URI, len(list))
	}

	if cmd.Bool("create") {
		result, err := c.CallTool(ctx, "create-user", map[string]any{
			"name":    cmd.String("name"),
			"email":   cmd.String("email"),
			"address": cmd.String("address"),
			"phone":   cmd.String("phone"),
		})
		if err != nil {
			return errors.Wrap(err, "create-user")
		}
		printToolResult(out, "create-user", result)
	}

	if cmd.Bool("random") {
		result, err := c.CallTool(ctx, "create-random-user", map[string]any{})
		if err != nil {
			return errors.Wrap(err, "create-random-user")
		}
		printToolResult(out, "create-random-user", result)
	}

	if cmd.Bool("keep") {
		fmt.Fprintf(out, "✓ session left open\n")
		return nil
	}
	if err := c.Terminate(ctx); err != nil {
		return errors.Wrap(err, "terminate")
	}
	fmt.Fprintf(out, "✓ session terminated\n")
	return nil
}

func printToolResult(out io.Writer, tool string, result ToolResult) {
	mark := "✓"
	if result.IsError {
		mark = "❌"
	}
	fmt.Fprintf(out, "%s %s: %s\n", mark, tool, result.Text())
}

// diagnosticsURL maps http://host/rpc to http://host/api/sessions
func diagnosticsURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse url")
	}
	u.Path = "/api/sessions"
	u.RawQuery = ""
	return u.String(), nil
}

func sessionsAction(ctx context.Context, cmd *cli.Command) error {
	target, err := diagnosticsURL(cmd.String("url"))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := (&http.Client{Timeout: cmd.Duration("timeout")}).Do(req)
	if err != nil {
		return errors.Wrap(err, "get sessions")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("get sessions: HTTP %d", resp.StatusCode)
	}

	var diag struct {
		Count    int            `json:"count"`
		States   map[string]int `json:"states"`
		Sessions []struct {
			State          string    `json:"state"`
			CreatedAt      time.Time `json:"created_at"`
			LastActive     time.Time `json:"last_active"`
			StreamAttached bool      `json:"stream_attached"`
			InFlight       int       `json:"in_flight"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&diag); err != nil {
		return errors.Wrap(err, "parse sessions")
	}

	out := cmd.Root().Writer
	fmt.Fprintf(out, "sessions: %d\n", diag.Count)
	for state, n := range diag.States {
		fmt.Fprintf(out, "  %s: %d\n", state, n)
	}
	for _, s := range diag.Sessions {
		flags := []string{s.State}
		if s.StreamAttached {
			flags = append(flags, "streaming")
		}
		if s.InFlight > 0 {
			flags = append(flags, fmt.Sprintf("%d in flight", s.InFlight))
		}
		fmt.Fprintf(out, "  - created %s, idle %s [%s]\n",
			s.CreatedAt.Format(time.RFC3339), time.Since(s.LastActive).Round(time.Second), strings.Join(flags, ", "))
	}
	return nil
}
