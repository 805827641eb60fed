// ABOUTME: MCP server subcommand
// ABOUTME: Serves tools, resources, and prompts over stdio for a started session
package cli

import (
	"context"
	"flag"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/huddle/handlers"
)

// MCPCommand starts the MCP server on stdio
func MCPCommand(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	_ = fs.Parse(args)

	// Stdout carries the protocol, so logs must stay on stderr.
	env.Logger.Info("starting MCP server")

	sess, err := env.openSession(ctx, *project)
	if err != nil {
		return err
	}
	defer closeSession(sess)

	server := handlers.NewServer(sess, env.Version)
	return server.Run(ctx, &mcp.StdioTransport{})
}
