package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"convsync/pkg/client"
	"convsync/pkg/config"
	"convsync/pkg/models"
)

func newClient(cfg *config.Config) (*client.Client, error) {
	return client.New(cfg.Server.BaseURL,
		client.WithToken(cfg.Server.Token),
		client.WithMaxUpload(cfg.Upload.MaxBytesOrDefault()),
	)
}

// wsBase returns the websocket endpoint, derived from the REST base when
// not configured explicitly.
func wsBase(cfg *config.Config) string {
	if cfg.Server.WSURL != "" {
		return cfg.Server.WSURL
	}
	u := cfg.Server.BaseURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimRight(u, "/") + "/ws"
}

func parseConversationID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid conversation id: %q", arg)
	}
	return id, nil
}

// lookupConversation resolves an id against the directory so tail and
// send operate on a real conversation; unknown ids still work with an
// unknown-variant placeholder.
func lookupConversation(ctx context.Context, c *client.Client, id int64) models.Conversation {
	convs, err := c.ListConversations(ctx)
	if err == nil {
		for _, cv := range convs {
			if cv.ID == id {
				return cv
			}
		}
	}
	return models.Conversation{ID: id, Type: models.ConversationUnknown}
}
