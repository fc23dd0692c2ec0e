package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convsync/pkg/models"
	"convsync/pkg/realtime"
)

type fakeAPI struct {
	mu         sync.Mutex
	page       []models.Message
	fetchSizes []int
	fetchErr   error
	sendErr    error
	sendBlock  chan struct{} // when non-nil, sends block until closed or ctx done
	nextID     int64
	added      []int64
	removed    []int64
}

func (f *fakeAPI) FetchMessages(_ context.Context, _ int64, size int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchSizes = append(f.fetchSizes, size)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]models.Message, len(f.page))
	copy(out, f.page)
	return out, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID int64, content string) (models.Message, error) {
	f.mu.Lock()
	block := f.sendBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		case <-block:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.nextID++
	return models.Message{ID: f.nextID + 1000, ConversationID: conversationID, Content: content, CreationDate: time.Now()}, nil
}

func (f *fakeAPI) AddReaction(_ context.Context, messageID int64, _ string) (models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, messageID)
	return models.Reaction{ID: 100}, nil
}

func (f *fakeAPI) RemoveReaction(_ context.Context, reactionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, reactionID)
	return nil
}

func (f *fakeAPI) setPage(msgs []models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.page = msgs
}

type fakeSubscriber struct {
	mu     sync.Mutex
	subs   []string
	unsubs []string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, topic string, _ int64, _ realtime.Applier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, topic)
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, topic)
}

func conv() models.Conversation {
	return models.Conversation{ID: 1, Type: models.ConversationChannel, Name: "general"}
}

func at(ts string) time.Time {
	t, _ := time.Parse(time.RFC3339, ts)
	return t
}

const userID = 77

func TestLoadPopulatesStoreAndState(t *testing.T) {
	api := &fakeAPI{page: []models.Message{
		{ID: 2, ConversationID: 1, Content: "newer", CreationDate: at("2024-01-01T10:00:00Z")},
		{ID: 1, ConversationID: 1, Content: "older", CreationDate: at("2024-01-01T09:00:00Z")},
	}}
	s := New(api, &fakeSubscriber{}, conv(), userID, WithLocation(time.UTC))

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, PhaseReady, s.State().Phase)
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, int64(2), msgs[1].ID)
}

func TestLoadFailureSetsFailedState(t *testing.T) {
	boom := errors.New("boom")
	api := &fakeAPI{fetchErr: boom}
	s := New(api, &fakeSubscriber{}, conv(), userID)

	require.Error(t, s.Load(context.Background()))
	st := s.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.ErrorIs(t, st.Err, boom)
}

func TestLoadMoreGrowsPageSizeFromPageZero(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, &fakeSubscriber{}, conv(), userID, WithPageSize(2, 2))

	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.LoadMore(context.Background()))
	require.NoError(t, s.LoadMore(context.Background()))
	assert.Equal(t, []int{2, 4, 6}, api.fetchSizes)
}

func TestStartAndStopManageSubscription(t *testing.T) {
	sub := &fakeSubscriber{}
	s := New(&fakeAPI{}, sub, conv(), userID)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	assert.Equal(t, []string{"conversation/1"}, sub.subs)
	assert.Equal(t, []string{"conversation/1"}, sub.unsubs)
}

func TestToggleReactionAddsWhenAbsent(t *testing.T) {
	base := models.Message{ID: 5, ConversationID: 1, Content: "hi", CreationDate: at("2024-01-01T09:00:00Z")}
	api := &fakeAPI{page: []models.Message{base}}
	s := New(api, &fakeSubscriber{}, conv(), userID, WithLocation(time.UTC))
	require.NoError(t, s.Load(context.Background()))

	reacted := base
	reacted.Reactions = []models.Reaction{{ID: 100, EmojiID: "+1", Author: models.Author{ID: userID}}}
	api.setPage([]models.Message{reacted})

	require.NoError(t, s.ToggleReaction(context.Background(), 5, "+1"))
	assert.Equal(t, []int64{5}, api.added)

	got, found := s.store.Find(5)
	require.True(t, found)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "+1", got.Reactions[0].EmojiID)
}

func TestToggleReactionRemovesWhenPresent(t *testing.T) {
	reacted := models.Message{
		ID: 5, ConversationID: 1, Content: "hi", CreationDate: at("2024-01-01T09:00:00Z"),
		Reactions: []models.Reaction{{ID: 100, EmojiID: "+1", Author: models.Author{ID: userID}}},
	}
	api := &fakeAPI{page: []models.Message{reacted}}
	s := New(api, &fakeSubscriber{}, conv(), userID, WithLocation(time.UTC))
	require.NoError(t, s.Load(context.Background()))

	plain := reacted
	plain.Reactions = nil
	api.setPage([]models.Message{plain})

	require.NoError(t, s.ToggleReaction(context.Background(), 5, "+1"))
	assert.Equal(t, []int64{100}, api.removed)
	assert.Empty(t, api.added)

	got, found := s.store.Find(5)
	require.True(t, found)
	assert.Empty(t, got.Reactions)
}

func TestToggleReactionSurfacesConcurrentDelete(t *testing.T) {
	base := models.Message{ID: 5, ConversationID: 1, Content: "hi", CreationDate: at("2024-01-01T09:00:00Z")}
	api := &fakeAPI{page: []models.Message{base}}
	s := New(api, &fakeSubscriber{}, conv(), userID, WithLocation(time.UTC))
	require.NoError(t, s.Load(context.Background()))

	// message vanished server-side before the refetch
	api.setPage(nil)
	err := s.ToggleReaction(context.Background(), 5, "+1")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	// store untouched
	_, found := s.store.Find(5)
	assert.True(t, found)
}

func TestToggleReactionUnknownMessage(t *testing.T) {
	s := New(&fakeAPI{}, &fakeSubscriber{}, conv(), userID)
	require.NoError(t, s.Load(context.Background()))
	err := s.ToggleReaction(context.Background(), 404, "+1")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestComposeValidation(t *testing.T) {
	s := New(&fakeAPI{}, &fakeSubscriber{}, conv(), userID)
	_, err := s.Compose("")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestComposeConfirmedSendMergesIntoStore(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, &fakeSubscriber{}, conv(), userID, WithLocation(time.UTC), WithOutboxPace(100, 10))
	require.NoError(t, s.Load(context.Background()))

	_, err := s.Compose("hello there")
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.Pending()) == 0 && len(s.Messages()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, s.Pending(), 0, "confirmed item must leave the queue")
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Content)
}

func TestStopDropsInFlightSendOfPacedOutbox(t *testing.T) {
	api := &fakeAPI{sendBlock: make(chan struct{})}
	s := New(api, &fakeSubscriber{}, conv(), userID, WithOutboxPace(100, 10))

	_, err := s.Compose("hello")
	require.NoError(t, err)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p := s.Pending()
		if len(p) == 1 && p[0].InFlight {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Stop must close the one outbox the session actually runs, pacing
	// options included
	s.Stop()
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p := s.Pending()
		if len(p) == 1 && !p[0].InFlight && !p[0].DidFail {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("in-flight send not dropped cleanly: %+v", s.Pending())
}

func TestOnChangeCancelDuringMutations(t *testing.T) {
	s := New(&fakeAPI{}, &fakeSubscriber{}, conv(), userID, WithLocation(time.UTC))
	var n int32
	unsub := s.OnChange(func() { atomic.AddInt32(&n, 1) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= 50; i++ {
			s.ApplyCreate(models.Message{ID: i, ConversationID: 1, CreationDate: time.Now()})
		}
	}()
	unsub()
	<-done

	after := atomic.LoadInt32(&n)
	s.ApplyCreate(models.Message{ID: 999, ConversationID: 1, CreationDate: time.Now()})
	assert.Equal(t, after, atomic.LoadInt32(&n), "notification after cancel")
}

func TestComposeFailureKeepsPendingWithRetry(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("offline")}
	s := New(api, &fakeSubscriber{}, conv(), userID, WithOutboxPace(100, 10))

	id, err := s.Compose("hello")
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p := s.Pending()
		if len(p) == 1 && p[0].DidFail && !p[0].InFlight {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	p := s.Pending()
	require.Len(t, p, 1)
	assert.True(t, p[0].DidFail)

	// user-triggered retry after connectivity returns
	api.mu.Lock()
	api.sendErr = nil
	api.mu.Unlock()
	require.NoError(t, s.Retry(id))
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.Pending()) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Len(t, s.Pending(), 0)
}
