package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatstream/internal/signal"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "chatstream",
	Short: "Stream LLM answers in the terminal, with tool calls",
	Long: `chatstream sends a conversation to Gemini, OpenAI or Anthropic and
streams the answer back. When the model calls a tool from one of the
configured MCP servers, the tool runs and the answer continues.

Examples:
  chatstream ask "summarize this" -f report.pdf
  chatstream ask "what's the weather in Paris" --tools weather
  chatstream chat -p anthropic
  chatstream conversations list
  chatstream mcp list`,
	SilenceUsage:      true,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var (
	configPath   string
	providerFlag string
	debugFlag    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/chatstream/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "Override provider, optionally with model (e.g., openai:gpt-4o)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Log debug information to stderr")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
