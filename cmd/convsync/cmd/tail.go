package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"convsync/pkg/models"
	"convsync/pkg/ops"
	"convsync/pkg/realtime"
	"convsync/pkg/session"
	"convsync/pkg/shutdown"
)

var (
	authorColor = color.New(color.FgCyan, color.Bold)
	timeColor   = color.New(color.FgHiBlack)
	dayColor    = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
)

var tailCmd = &cobra.Command{
	Use:   "tail <conversation-id>",
	Short: "Live-follow a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseConversationID(args[0])
		if err != nil {
			return err
		}
		api, err := newClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := shutdown.SetupSignalHandler(cmd.Context())
		defer cancel()

		conv := lookupConversation(ctx, api, convID)
		recv := realtime.New(wsBase(cfg), cfg.Server.Token)
		sess := session.New(api, recv, conv, cfg.Server.UserID,
			session.WithPageSize(cfg.Sync.PageSizeOrDefault(), cfg.Sync.PageIncrementOrDefault()),
			session.WithOutboxPace(cfg.Outbox.RPS, cfg.Outbox.Burst),
		)

		g, gctx := errgroup.WithContext(ctx)
		if cfg.Ops.Enabled {
			addr := cfg.Ops.Addr
			if addr == "" {
				addr = "127.0.0.1:9190"
			}
			g.Go(func() error { return ops.Serve(gctx, addr) })
		}

		// change notifications arrive while the session lock is held;
		// printing happens on this goroutine after a wakeup instead
		changed := make(chan struct{}, 1)
		unsub := sess.OnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		defer unsub()

		seen := make(map[int64]bool)
		lastDay := ""
		printNew := func() {
			for _, m := range sess.Messages() {
				if seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				printMessage(m, &lastDay)
			}
		}

		g.Go(func() error {
			var cron string
			if cfg.Sync.Resync.Enabled {
				cron = cfg.Sync.Resync.Cron
				if cron == "" {
					cron = "*/5 * * * *"
				}
			}
			return sess.Run(gctx, cron)
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-changed:
					printNew()
				}
			}
		})

		fmt.Printf("tailing %s (conversation %d)\n", conv.DisplayName(), conv.ID)
		err = g.Wait()
		for _, it := range sess.Pending() {
			if it.DidFail {
				failColor.Printf("unsent: %s\n", it.Content)
			}
		}
		return err
	},
}

func printMessage(m models.Message, lastDay *string) {
	day := m.CreationDate.Local().Format("2006-01-02")
	if day != *lastDay {
		dayColor.Printf("--- %s ---\n", day)
		*lastDay = day
	}
	timeColor.Printf("%s ", m.CreationDate.Local().Format("15:04"))
	authorColor.Printf("%s", m.Author.Name)
	edited := ""
	if m.UpdatedDate != nil {
		edited = " (edited)"
	}
	fmt.Printf(": %s%s\n", m.Content, edited)
}

func init() {
	rootCmd.AddCommand(tailCmd)
}
