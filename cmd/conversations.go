package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/store"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage stored conversations",
	Long: `List, search, show and delete stored conversations.

Examples:
  chatstream conversations                 # list recent conversations
  chatstream conversations search umbrella
  chatstream conversations show <id>
  chatstream conversations delete <id>`,
	RunE: runConversationsList,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runConversationsSearch,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

var (
	conversationsLimit int
	conversationsJSON  bool
)

func init() {
	conversationsCmd.PersistentFlags().IntVarP(&conversationsLimit, "limit", "n", 20, "Maximum number of results")
	conversationsCmd.PersistentFlags().BoolVar(&conversationsJSON, "json", false, "Output JSON")
	conversationsCmd.AddCommand(conversationsListCmd, conversationsSearchCmd, conversationsShowCmd, conversationsDeleteCmd)
	rootCmd.AddCommand(conversationsCmd)
}

type errConversationNotFound string

func (e errConversationNotFound) Error() string {
	return "conversation not found: " + string(e)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	convs, err := a.store.List(cmd.Context(), conversationsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if conversationsJSON {
		return writeJSON(out, convs)
	}
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations yet. Start one with: chatstream ask <question>")
		return nil
	}
	for _, c := range convs {
		fmt.Fprintf(out, "%s  %s  %s\n", boldStyle.Render(c.ID), c.Title,
			mutedStyle.Render(fmt.Sprintf("%s/%s · %d messages · %s · %s",
				c.Provider, c.Model, c.MessageCount, c.Status, ago(c.UpdatedAt))))
	}
	return nil
}

func runConversationsSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.store.Search(cmd.Context(), strings.Join(args, " "), conversationsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if conversationsJSON {
		return writeJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "%s  %s\n    %s\n", boldStyle.Render(r.ConversationID), r.Title, r.Snippet)
	}
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if conv == nil {
		return errConversationNotFound(args[0])
	}
	messages, err := a.store.Messages(ctx, conv.ID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if conversationsJSON {
		return writeJSON(out, struct {
			*store.Conversation
			Messages []chat.Message `json:"messages"`
		}{conv, messages})
	}

	fmt.Fprintln(out, boldStyle.Render(conv.Title))
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%s/%s · %d turns · %d tool calls · %d in / %d out tokens",
		conv.Provider, conv.Model, conv.Turns, conv.ToolCalls, conv.InputTokens, conv.OutputTokens)))
	for _, m := range messages {
		fmt.Fprintln(out)
		if m.Type == chat.TypeClear {
			fmt.Fprintln(out, mutedStyle.Render("--- context cleared ---"))
			continue
		}
		fmt.Fprintln(out, toolStyle.Render(string(m.Role)))
		fmt.Fprintln(out, m.Content)
		for _, att := range m.Attachments {
			fmt.Fprintln(out, mutedStyle.Render("  attached: "+att.Name))
		}
	}
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ago(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Format("2006-01-02")
}
