package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	listOffset int
	listLimit  int
	outputPath string
)

// conversationsCmd 会话管理
var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List and manage conversations",
	RunE:    runConversationsList,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runConversationsList,
}

var conversationsRenameCmd = &cobra.Command{
	Use:   "rename <conversation-id> <new-name>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := newBackend().RenameConversation(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("rename: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "renamed %s → %s\n", args[0], args[1])
		return nil
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>...",
	Short: "Delete conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := newBackend().DeleteConversations(ctx, args...); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d conversation(s)\n", len(args))
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <conversation-id>",
	Short: "Download the generated report document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		body, contentType, err := newBackend().Download(ctx, args[0])
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		defer body.Close()

		path := outputPath
		if path == "" {
			path = args[0] + extensionFor(contentType)
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(f, body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", path, n)
		return nil
	},
}

func init() {
	conversationsCmd.PersistentFlags().IntVar(&listOffset, "offset", 0, "List offset")
	conversationsCmd.PersistentFlags().IntVar(&listLimit, "limit", 50, "List page size")
	conversationsCmd.AddCommand(conversationsListCmd, conversationsRenameCmd, conversationsDeleteCmd)
	downloadCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: <id>.<ext>)")
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	items, err := newBackend().ListConversations(ctx, listOffset, listLimit)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No conversations found.")
		return nil
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	for _, c := range items {
		fmt.Fprintf(out, "%s  %s  %s\n", c.ID, dimStyle.Render(c.CreatedTime), c.Title)
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprintf(out, "Total: %d\n", len(items))
	return nil
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	case strings.Contains(contentType, "markdown"):
		return ".md"
	case strings.Contains(contentType, "wordprocessingml"):
		return ".docx"
	case strings.Contains(contentType, "html"):
		return ".html"
	default:
		return ".bin"
	}
}
