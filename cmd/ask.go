package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/input"
)

var (
	askFlags sessionFlags
	askStats bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the model a single question",
	Long: `Ask the model a question and stream the answer.

The question may also be piped on stdin. Use -c to continue a stored
conversation; the conversation ID is printed after each answer.

Examples:
  chatstream ask "explain goroutine leaks"
  chatstream ask "what does this contract say about renewal" -f contract.pdf
  chatstream ask "any rain tomorrow?" --tools weather
  git diff | chatstream ask "review this change" --render`,
	RunE: runAsk,
}

func init() {
	addSessionFlags(askCmd, &askFlags)
	AddFileFlag(askCmd, &askFlags.files, "Attach a file (image, pdf or text), repeatable")
	askCmd.Flags().BoolVar(&askStats, "stats", false, "Print timing and token usage after the answer")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	piped, err := input.ReadStdin()
	if err != nil {
		return err
	}
	question, err := questionText(args, piped)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	x := a.exchange(cmd.OutOrStdout(), askFlags)
	if err := x.openConversation(ctx, askFlags.conversation); err != nil {
		return err
	}
	if askFlags.tools != "none" {
		x.tools = a.startTools(ctx)
	}

	atts, err := input.Attachments(askFlags.files)
	if err != nil {
		return err
	}
	msg := chat.NewUserMessage(question, atts...)
	msg.EnabledTools = enabledTools(askFlags.tools, x.tools)

	summary, err := x.ask(ctx, msg)
	if err != nil {
		return err
	}
	errOut := cmd.ErrOrStderr()
	if askStats {
		fmt.Fprintln(errOut, summaryLine(summary))
	}
	if x.conv.ID != "" && a.cfg.Store.Enabled {
		fmt.Fprintln(errOut, mutedStyle.Render("conversation "+x.conv.ID))
	}
	return nil
}

// exchange builds an exchange for the app's session.
func (a *app) exchange(out io.Writer, f sessionFlags) *exchange {
	assistant := a.assistant
	if f.noStream {
		assistant.StreamOutput = false
	}
	if f.search {
		assistant.EnableWebSearch = true
	}
	return &exchange{
		session:   a.session,
		store:     a.store,
		assistant: assistant,
		provider:  a.cfg.Provider,
		logger:    a.logger,
		out:       out,
		render:    f.render,
	}
}

// questionText joins the arguments with any piped stdin.
func questionText(args []string, piped string) (string, error) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if piped = strings.TrimSpace(piped); piped != "" {
		if question == "" {
			question = piped
		} else {
			question = question + "\n\n" + piped
		}
	}
	if question == "" {
		return "", fmt.Errorf("no question given")
	}
	return question, nil
}
