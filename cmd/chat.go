package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatstream/internal/chat"
)

var chatFlags sessionFlags

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start a line-based conversation with the model.

Ctrl-C stops the answer being streamed; Ctrl-D or /exit leaves.

Commands:
  /clear   forget everything said so far
  /tools   list the tools the model can call
  /exit    quit

Examples:
  chatstream chat
  chatstream chat -p openai:gpt-4.1 --tools none
  chatstream chat -c 01JB2Z7Q5K3W8Y4X6V9T0N1M2P`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	addSessionFlags(chatCmd, &chatFlags)
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	x := a.exchange(cmd.OutOrStdout(), chatFlags)
	if err := x.openConversation(ctx, chatFlags.conversation); err != nil {
		return err
	}
	if chatFlags.tools != "none" {
		x.tools = a.startTools(ctx)
	}
	enabled := enabledTools(chatFlags.tools, x.tools)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%s · %s · %d tools", a.cfg.Provider, x.assistant.Model, len(x.tools))))
	return chatLoop(ctx, x, cmd.InOrStdin(), out, enabled)
}

func chatLoop(ctx context.Context, x *exchange, in io.Reader, out io.Writer, enabled []string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, boldStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			x.clear(ctx)
			fmt.Fprintln(out, mutedStyle.Render("context cleared"))
			continue
		case "/tools":
			for _, t := range x.tools {
				fmt.Fprintf(out, "  %s  %s\n", t.Spec().Name, mutedStyle.Render(firstLine(t.Spec().Description)))
			}
			continue
		}

		msg := chat.NewUserMessage(line)
		msg.EnabledTools = enabled
		if _, err := x.ask(ctx, msg); err != nil {
			fmt.Fprintln(out, errorStyle.Render("error: "+err.Error()))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
