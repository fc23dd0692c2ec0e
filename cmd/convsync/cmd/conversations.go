package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List the conversation directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		api, err := newClient(cfg)
		if err != nil {
			return err
		}
		convs, err := api.ListConversations(cmd.Context())
		if err != nil {
			return err
		}
		bold := color.New(color.Bold)
		dim := color.New(color.FgHiBlack)
		for _, c := range convs {
			if c.IsHidden {
				continue
			}
			marker := " "
			if c.IsFavorite {
				marker = "*"
			}
			bold.Printf("%s %6d  %-12s %s", marker, c.ID, c.Type.Normalize(), c.DisplayName())
			if c.UnreadCount > 0 {
				fmt.Printf("  (%d unread)", c.UnreadCount)
			}
			if c.IsMuted {
				dim.Printf("  muted")
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
}
