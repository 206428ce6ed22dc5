package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatstream/internal/llm"
)

// sessionFlags are shared by ask and chat.
type sessionFlags struct {
	files        []string
	tools        string
	noStream     bool
	search       bool
	render       bool
	conversation string
}

func addSessionFlags(cmd *cobra.Command, f *sessionFlags) {
	cmd.Flags().StringVar(&f.tools, "tools", "all", "Tools the model may call: all, none, or a comma-separated list of tool or MCP server names")
	cmd.Flags().BoolVar(&f.noStream, "no-stream", false, "Wait for the whole answer instead of streaming it")
	cmd.Flags().BoolVarP(&f.search, "search", "s", false, "Enable the provider's native web search")
	cmd.Flags().BoolVarP(&f.render, "render", "r", false, "Render the answer as markdown once it is complete")
	cmd.Flags().StringVarP(&f.conversation, "conversation", "c", "", "Continue a stored conversation by ID")
}

// AddFileFlag adds the --file/-f flag
func AddFileFlag(cmd *cobra.Command, dest *[]string, description string) {
	cmd.Flags().StringArrayVarP(dest, "file", "f", nil, description)
}

// enabledTools turns the --tools value into the message's enabled list.
func enabledTools(flag string, tools []llm.Tool) []string {
	switch strings.TrimSpace(flag) {
	case "", "all":
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Spec().Name)
		}
		return names
	case "none":
		return nil
	}
	var names []string
	for _, name := range strings.Split(flag, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
