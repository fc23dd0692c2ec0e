// Package realtime consumes the per-conversation publish/subscribe stream
// and feeds create/update/delete deltas to the store owner. One
// subscription runs per topic; events are handled one at a time in
// arrival order.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/ops"
)

// Action tags an event envelope.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Envelope is the JSON frame delivered on a topic.
type Envelope struct {
	Action Action         `json:"action"`
	Post   models.Message `json:"post"`
}

// Applier receives decoded events. The store owner implements this and is
// responsible for serializing mutations.
type Applier interface {
	ApplyCreate(models.Message) bool
	ApplyUpdate(models.Message) bool
	ApplyDelete(models.Message) int
}

// subscription identifies one topic registration. The pointer doubles as
// an ownership token: teardown paths remove the registry entry only when
// it is still their own, so a stale loop can never evict a successor.
type subscription struct {
	cancel context.CancelFunc
}

// Receiver manages websocket subscriptions. Safe for concurrent use.
type Receiver struct {
	wsBase string
	token  string
	dialer *websocket.Dialer

	mu     sync.Mutex
	active map[string]*subscription
}

// New creates a Receiver dialing topics under wsBase, e.g.
// "ws://host/ws". The token, when set, is sent as a bearer header.
func New(wsBase, token string) *Receiver {
	return &Receiver{
		wsBase: strings.TrimRight(wsBase, "/"),
		token:  token,
		dialer: websocket.DefaultDialer,
		active: make(map[string]*subscription),
	}
}

// Subscribe opens the topic stream and dispatches events for the given
// conversation to apply until ctx is canceled or the stream ends. A
// second subscribe for an already-active topic is a no-op. Dial failures
// are returned; a stream that later ends does so silently (no reconnect).
func (r *Receiver) Subscribe(ctx context.Context, topic string, conversationID int64, apply Applier) error {
	r.mu.Lock()
	if _, ok := r.active[topic]; ok {
		r.mu.Unlock()
		logger.Debug("subscribe_noop_active", "topic", topic)
		return nil
	}
	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel}
	r.active[topic] = sub
	r.mu.Unlock()

	hdr := http.Header{}
	if r.token != "" {
		hdr.Set("Authorization", "Bearer "+r.token)
	}
	conn, _, err := r.dialer.DialContext(sctx, r.wsBase+"/"+topic, hdr)
	if err != nil {
		r.drop(topic, sub)
		return err
	}

	// cancellation is cooperative: closing the conn unblocks the reader
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()
	go r.consume(sctx, conn, topic, conversationID, sub, apply)
	logger.Info("subscribed", "topic", topic, "conversation", conversationID)
	return nil
}

// Unsubscribe removes the topic's registration immediately and cancels
// its stream. A fresh Subscribe for the same topic works right away; the
// old read loop winds down on its own without touching the newcomer.
func (r *Receiver) Unsubscribe(topic string) {
	r.mu.Lock()
	sub, ok := r.active[topic]
	if ok {
		delete(r.active, topic)
	}
	r.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// Active reports whether a subscription is running for topic.
func (r *Receiver) Active(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[topic]
	return ok
}

// Close cancels every active subscription.
func (r *Receiver) Close() {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.active))
	for topic, s := range r.active {
		subs = append(subs, s)
		delete(r.active, topic)
	}
	r.mu.Unlock()
	for _, s := range subs {
		s.cancel()
	}
}

// drop deregisters sub and cancels it. The entry is removed only when it
// still belongs to sub; Unsubscribe may already have replaced it with a
// newer registration that this teardown must leave alone.
func (r *Receiver) drop(topic string, sub *subscription) {
	r.mu.Lock()
	if r.active[topic] == sub {
		delete(r.active, topic)
	}
	r.mu.Unlock()
	sub.cancel()
}

func (r *Receiver) consume(ctx context.Context, conn *websocket.Conn, topic string, conversationID int64, sub *subscription, apply Applier) {
	defer r.drop(topic, sub)
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			// stream end is silent; the owner resubscribes on reload
			logger.Debug("stream_ended", "topic", topic, "err", err)
			return
		}
		r.dispatch(data, conversationID, apply)
	}
}

// dispatch decodes one frame and applies it. Payloads for other
// conversations are discarded; a single topic may serve several.
func (r *Receiver) dispatch(data []byte, conversationID int64, apply Applier) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ops.EventsDiscarded.WithLabelValues("decode").Inc()
		logger.Warn("event_decode_failed", "err", err)
		return
	}
	if env.Post.ConversationID != conversationID {
		ops.EventsDiscarded.WithLabelValues("foreign_conversation").Inc()
		return
	}
	switch env.Action {
	case ActionCreate:
		if apply.ApplyCreate(env.Post) {
			ops.EventsApplied.WithLabelValues("create").Inc()
		} else {
			ops.EventsDiscarded.WithLabelValues("duplicate").Inc()
		}
	case ActionUpdate:
		if apply.ApplyUpdate(env.Post) {
			ops.EventsApplied.WithLabelValues("update").Inc()
		} else {
			ops.EventsDiscarded.WithLabelValues("unknown_target").Inc()
		}
	case ActionDelete:
		if apply.ApplyDelete(env.Post) > 0 {
			ops.EventsApplied.WithLabelValues("delete").Inc()
		} else {
			ops.EventsDiscarded.WithLabelValues("unknown_target").Inc()
		}
	default:
		ops.EventsDiscarded.WithLabelValues("unknown_action").Inc()
		logger.Warn("event_unknown_action", "action", string(env.Action))
	}
}
