package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"convsync/pkg/client"
)

var sendAttach string

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <content>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseConversationID(args[0])
		if err != nil {
			return err
		}
		content := args[1]
		api, err := newClient(cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if sendAttach != "" {
			data, err := os.ReadFile(sendAttach)
			if err != nil {
				return err
			}
			name := filepath.Base(sendAttach)
			path, err := api.Upload(ctx, data, name, http.DetectContentType(data))
			if err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}
			content = strings.TrimRight(content, "\n") + "\n" + client.MarkdownAttachment(name, path)
		}

		m, err := api.SendMessage(ctx, convID, content)
		if err != nil {
			return err
		}
		fmt.Printf("sent message %d to conversation %d\n", m.ID, convID)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendAttach, "attach", "", "file to upload and reference from the message")
	rootCmd.AddCommand(sendCmd)
}
