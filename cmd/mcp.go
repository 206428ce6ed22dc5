package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatstream/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP (Model Context Protocol) servers",
	Long: `Manage the MCP servers whose tools the model can call.

Examples:
  chatstream mcp list
  chatstream mcp add files -- npx -y @modelcontextprotocol/server-filesystem /tmp
  chatstream mcp add search --url https://search.example.com/mcp --header "Authorization=Bearer $TOKEN"
  chatstream mcp test files
  chatstream mcp remove files`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured MCP servers and their cached tools",
	Args:  cobra.NoArgs,
	RunE:  mcpList,
}

var mcpAddCmd = &cobra.Command{
	Use:   "add <name> [-- command args...]",
	Short: "Add an MCP server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  mcpAdd,
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an MCP server",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpRemove,
}

var mcpTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Start an MCP server and list its tools",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpTest,
}

var mcpPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print MCP configuration file path",
	Args:  cobra.NoArgs,
	RunE:  mcpPath,
}

var (
	mcpAddURL     string
	mcpAddEnv     []string
	mcpAddHeaders []string
)

func init() {
	mcpAddCmd.Flags().StringVar(&mcpAddURL, "url", "", "Endpoint of an HTTP server")
	mcpAddCmd.Flags().StringArrayVar(&mcpAddEnv, "env", nil, "Environment variable KEY=VALUE for a stdio server (repeatable)")
	mcpAddCmd.Flags().StringArrayVar(&mcpAddHeaders, "header", nil, "HTTP header KEY=VALUE for an HTTP server (repeatable)")
	mcpCmd.AddCommand(mcpListCmd, mcpAddCmd, mcpRemoveCmd, mcpTestCmd, mcpPathCmd)
	rootCmd.AddCommand(mcpCmd)
}

func mcpList(cmd *cobra.Command, args []string) error {
	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()

	if len(cfg.Servers) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Add one with: chatstream mcp add <name> -- <command> [args...]")
		return nil
	}

	fmt.Fprintf(out, "Configured MCP servers (%d):\n\n", len(cfg.Servers))
	for _, name := range cfg.ServerNames() {
		server := cfg.Servers[name]
		fmt.Fprintf(out, "  %s\n", boldStyle.Render(name))
		if server.TransportType() == "http" {
			fmt.Fprintf(out, "    url: %s\n", server.URL)
		} else {
			fmt.Fprintf(out, "    command: %s %s\n", server.Command, strings.Join(server.Args, " "))
		}
		if len(server.Env) > 0 {
			fmt.Fprintf(out, "    env: %d variables\n", len(server.Env))
		}
		cached, ok := mcp.LoadCachedTools(name)
		if !ok {
			fmt.Fprintln(out, mutedStyle.Render("    tools: unknown (run chatstream mcp test "+name+")"))
			continue
		}
		names := make([]string, 0, len(cached.Tools))
		for _, t := range cached.Tools {
			names = append(names, t.Name)
		}
		fmt.Fprintf(out, "    tools: %s %s\n", strings.Join(names, ", "), mutedStyle.Render("(seen "+ago(cached.CachedAt)+")"))
	}

	path, _ := mcp.DefaultConfigPath()
	fmt.Fprintf(out, "\nConfig file: %s\n", path)
	return nil
}

func mcpAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	if strings.Contains(name, "__") {
		return fmt.Errorf("server name %q must not contain \"__\"", name)
	}

	server := mcp.ServerConfig{URL: mcpAddURL}
	if len(args) > 1 {
		server.Command = args[1]
		server.Args = args[2:]
	}
	var err error
	if server.Env, err = parseKeyValues(mcpAddEnv); err != nil {
		return err
	}
	if server.Headers, err = parseKeyValues(mcpAddHeaders); err != nil {
		return err
	}
	if err := server.Validate(); err != nil {
		return err
	}

	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, exists := cfg.Servers[name]; exists {
		return fmt.Errorf("server '%s' already exists in config", name)
	}
	cfg.AddServer(name, server)
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	path, _ := mcp.DefaultConfigPath()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Added '%s' to %s\n", name, path)
	fmt.Fprintf(out, "Test it with: chatstream mcp test %s\n", name)
	return nil
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		m[k] = v
	}
	return m, nil
}

func mcpRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.RemoveServer(name) {
		return fmt.Errorf("server '%s' not found in config", name)
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := mcp.ForgetCachedTools(name); err != nil {
		return fmt.Errorf("forget cached tools: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed '%s' from config\n", name)
	return nil
}

func mcpTest(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	serverCfg, ok := cfg.Servers[name]
	if !ok {
		return fmt.Errorf("server '%s' not found in config", name)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), mcpStartTimeout)
	defer cancel()
	return testServer(ctx, cmd.OutOrStdout(), name, serverCfg)
}

// testServer starts one server through a manager, reports each status
// change and lists the tools the model would see.
func testServer(ctx context.Context, out io.Writer, name string, serverCfg mcp.ServerConfig) error {
	m := mcp.NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.SetConfig(&mcp.Config{Servers: map[string]mcp.ServerConfig{name: serverCfg}})
	updates := make(chan mcp.StatusUpdate, 4)
	m.SetStatusChannel(updates)
	defer m.StopAll()

	fmt.Fprintf(out, "Testing MCP server '%s'...\n", name)
	if err := m.Enable(ctx, name); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, errorStyle.Render("  timed out"))
			return fmt.Errorf("start server: %w", ctx.Err())
		case u := <-updates:
			switch u.Status {
			case mcp.StatusStarting:
				fmt.Fprintln(out, "  starting")
				continue
			case mcp.StatusFailed:
				fmt.Fprintln(out, errorStyle.Render("  failed"))
				return fmt.Errorf("start server: %w", u.Error)
			}
			fmt.Fprintln(out, doneStyle.Render("  "+string(u.Status)))
		}
		break
	}

	tools := m.AllTools()
	fmt.Fprintf(out, "\nAvailable tools (%d):\n", len(tools))
	for _, t := range tools {
		fmt.Fprintf(out, "  - %s\n", t.Name)
		if t.Description != "" {
			fmt.Fprintf(out, "    %s\n", mutedStyle.Render(firstLine(t.Description)))
		}
	}
	return nil
}

func mcpPath(cmd *cobra.Command, args []string) error {
	path, err := mcp.DefaultConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (not created yet)\n", path)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}
