// Package session owns the live view of one open conversation: it loads
// paginated history, holds the day-bucketed store, feeds realtime deltas
// into it, and fronts the offline send queue. Dependencies are passed in
// explicitly; there are no shared singletons.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"convsync/internal/resync"
	"convsync/pkg/daystore"
	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/outbox"
	"convsync/pkg/realtime"
)

// ErrMessageNotFound is returned when a refetch-and-search cannot locate
// a message, e.g. after a concurrent delete.
var ErrMessageNotFound = errors.New("message not found")

// ErrEmptyMessage is returned by Compose for blank content.
var ErrEmptyMessage = errors.New("empty message content")

// maxContentLen bounds outgoing message content.
const maxContentLen = 5000

// API is the slice of the REST client the session depends on.
type API interface {
	FetchMessages(ctx context.Context, conversationID int64, size int) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID int64, content string) (models.Message, error)
	AddReaction(ctx context.Context, messageID int64, emojiID string) (models.Reaction, error)
	RemoveReaction(ctx context.Context, reactionID int64) error
}

// Subscriber is the realtime dependency; *realtime.Receiver satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, conversationID int64, apply realtime.Applier) error
	Unsubscribe(topic string)
}

// Phase is the tri-state load state consumed by the presentation layer.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseFailed
)

// LoadState pairs a phase with the error that caused a failure.
type LoadState struct {
	Phase Phase
	Err   error
}

// Session is the single logical owner of one conversation's store. All
// store mutations funnel through its mutex, which stands in for the UI
// thread's serial execution context.
type Session struct {
	api  API
	recv Subscriber
	conv models.Conversation

	userID        int64
	pageSize      int
	pageIncrement int
	outboxRPS     float64
	outboxBurst   int

	mu    sync.Mutex
	store *daystore.Store
	state LoadState

	box *outbox.Outbox
}

// Option configures a Session.
type Option func(*Session)

// WithPageSize sets the initial page size and load-more increment.
func WithPageSize(size, increment int) Option {
	return func(s *Session) {
		if size > 0 {
			s.pageSize = size
		}
		if increment > 0 {
			s.pageIncrement = increment
		}
	}
}

// WithLocation sets the calendar-day bucketing location.
func WithLocation(loc *time.Location) Option {
	return func(s *Session) { s.store = daystore.New(loc) }
}

// WithOutboxPace bounds outbox send pacing.
func WithOutboxPace(rps float64, burst int) Option {
	return func(s *Session) {
		s.outboxRPS = rps
		s.outboxBurst = burst
	}
}

// New builds a session for conv. userID identifies the current user for
// reaction toggling.
func New(api API, recv Subscriber, conv models.Conversation, userID int64, opts ...Option) *Session {
	s := &Session{
		api:           api,
		recv:          recv,
		conv:          conv,
		userID:        userID,
		pageSize:      50,
		pageIncrement: 50,
		store:         daystore.New(nil),
	}
	for _, o := range opts {
		o(s)
	}
	// the outbox owns a cancellable base context, so it is built exactly
	// once, after the pacing options have settled
	s.box = outbox.New(api, s.applyConfirmed, s.outboxRPS, s.outboxBurst)
	return s
}

// Topic returns the pub/sub topic for this conversation.
func (s *Session) Topic() string {
	return fmt.Sprintf("conversation/%d", s.conv.ID)
}

// Conversation returns the session's conversation.
func (s *Session) Conversation() models.Conversation { return s.conv }

// State returns the current load state.
func (s *Session) State() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Load fetches the current page from page zero and rebuilds the store.
// A live create that arrived before the load completes merges cleanly:
// rebuild repopulates from the page and later duplicates are ignored by
// identity.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	s.state = LoadState{Phase: PhaseLoading}
	size := s.pageSize
	s.mu.Unlock()

	msgs, err := s.api.FetchMessages(ctx, s.conv.ID, size)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = LoadState{Phase: PhaseFailed, Err: err}
		return err
	}
	s.store.Rebuild(msgs)
	s.state = LoadState{Phase: PhaseReady}
	logger.Info("conversation_loaded", "conversation", s.conv.ID, "count", len(msgs))
	return nil
}

// LoadMore grows the page size by the configured increment and refetches
// from page zero. There is no cursor.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	s.pageSize += s.pageIncrement
	s.mu.Unlock()
	return s.Load(ctx)
}

// Start opens the realtime subscription. Safe to call again; a duplicate
// subscribe is a no-op.
func (s *Session) Start(ctx context.Context) error {
	return s.recv.Subscribe(ctx, s.Topic(), s.conv.ID, s)
}

// Stop tears the session down: the subscription is cancelled and any
// in-flight outbox tasks are dropped without touching their failure
// state.
func (s *Session) Stop() {
	s.recv.Unsubscribe(s.Topic())
	s.box.Close()
}

// Run drives the session until ctx is canceled: initial load, realtime
// subscription, and the optional cron-scheduled resync.
func (s *Session) Run(ctx context.Context, resyncCron string) error {
	g, gctx := errgroup.WithContext(ctx)
	if err := s.Load(gctx); err != nil {
		return err
	}
	if err := s.Start(gctx); err != nil {
		return err
	}
	if resyncCron != "" {
		cancel, err := resync.Start(gctx, resyncCron, s.Load)
		if err != nil {
			return err
		}
		defer cancel()
	}
	g.Go(func() error {
		<-gctx.Done()
		s.Stop()
		return nil
	})
	return g.Wait()
}

// Messages returns the store contents in day-then-time order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Flatten()
}

// OnChange subscribes to store change notifications. The returned func
// cancels the subscription; like every store mutation it runs under the
// session lock.
func (s *Session) OnChange(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel := s.store.Subscribe(fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cancel()
	}
}

// ApplyCreate applies a realtime create on the session's serial context.
func (s *Session) ApplyCreate(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ApplyCreate(m)
}

// ApplyUpdate applies a realtime update on the session's serial context.
func (s *Session) ApplyUpdate(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ApplyUpdate(m)
}

// ApplyDelete applies a realtime delete on the session's serial context.
func (s *Session) ApplyDelete(m models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ApplyDelete(m)
}

// Compose validates content and queues it for sending. The returned
// client ID identifies the pending item for Retry.
func (s *Session) Compose(content string) (string, error) {
	if content == "" {
		return "", ErrEmptyMessage
	}
	if len(content) > maxContentLen {
		return "", fmt.Errorf("message content exceeds %d characters", maxContentLen)
	}
	return s.box.Enqueue(s.conv.ID, content), nil
}

// Retry restarts the send for a failed pending message.
func (s *Session) Retry(clientID string) error {
	return s.box.Retry(clientID)
}

// Pending returns the offline queue snapshots in submission order.
func (s *Session) Pending() []outbox.Item {
	return s.box.Items()
}

// applyConfirmed merges a confirmed send into the store. It is the only
// callback crossing the outbox ownership boundary, invoked after the
// send fully completed.
func (s *Session) applyConfirmed(m models.Message) {
	s.mu.Lock()
	s.store.ApplyCreate(m)
	s.mu.Unlock()
}

// ToggleReaction adds the current user's reaction with emojiID if absent,
// removes it if present, then refreshes the affected message from the
// server. On failure the store is left unchanged.
func (s *Session) ToggleReaction(ctx context.Context, messageID int64, emojiID string) error {
	s.mu.Lock()
	m, ok := s.store.Find(messageID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("toggle reaction: %w: id %d", ErrMessageNotFound, messageID)
	}
	if r, mine := m.ReactionBy(s.userID, emojiID); mine {
		if err := s.api.RemoveReaction(ctx, r.ID); err != nil {
			return err
		}
	} else {
		if _, err := s.api.AddReaction(ctx, messageID, emojiID); err != nil {
			return err
		}
	}
	return s.refreshMessage(ctx, messageID)
}

// refreshMessage refetches the most recent page and replaces the single
// message in the store. There is no single-message endpoint; a message
// deleted concurrently surfaces as ErrMessageNotFound.
func (s *Session) refreshMessage(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	size := s.pageSize
	s.mu.Unlock()
	msgs, err := s.api.FetchMessages(ctx, s.conv.ID, size)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.ID == messageID {
			s.mu.Lock()
			s.store.ApplyUpdate(m)
			s.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("refresh: %w: id %d", ErrMessageNotFound, messageID)
}
