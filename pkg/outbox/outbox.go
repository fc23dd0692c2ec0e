// Package outbox queues locally composed messages that are pending or
// failed network confirmation. Items survive only as long as their owner;
// nothing is persisted across restarts.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"convsync/pkg/logger"
	"convsync/pkg/models"
	"convsync/pkg/ops"
)

// ErrUnknownItem is returned by Retry for a client ID not in the queue.
var ErrUnknownItem = errors.New("unknown outbox item")

// Sender performs the actual network send.
type Sender interface {
	SendMessage(ctx context.Context, conversationID int64, content string) (models.Message, error)
}

// Delegate is invoked with the server's confirmed copy after a successful
// send, once the item has left the queue.
type Delegate func(models.Message)

type pending struct {
	clientID       string
	conversationID int64
	content        string
	queuedAt       time.Time
	didFail        bool
	cancel         context.CancelFunc // non-nil while a send task is in flight
}

// Item is a read-only snapshot of a queued message.
type Item struct {
	ClientID       string
	ConversationID int64
	Content        string
	QueuedAt       time.Time
	DidFail        bool
	InFlight       bool
}

// Outbox holds pending sends in FIFO submission order. The ordering is
// cosmetic: sends are independent and retries may confirm out of order.
type Outbox struct {
	sender   Sender
	delegate Delegate
	limiter  *rate.Limiter

	mu    sync.Mutex
	items []*pending

	base      context.Context
	baseClose context.CancelFunc
}

// New creates an Outbox. rps/burst bound the send pace; zero values fall
// back to 2 rps with burst 5.
func New(sender Sender, delegate Delegate, rps float64, burst int) *Outbox {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 5
	}
	base, cancel := context.WithCancel(context.Background())
	return &Outbox{
		sender:    sender,
		delegate:  delegate,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		base:      base,
		baseClose: cancel,
	}
}

// Enqueue appends a composed message and immediately starts its send
// task. The returned client ID identifies the item for Retry.
func (o *Outbox) Enqueue(conversationID int64, content string) string {
	p := &pending{
		clientID:       uuid.NewString(),
		conversationID: conversationID,
		content:        content,
		queuedAt:       time.Now(),
	}
	o.mu.Lock()
	o.items = append(o.items, p)
	ops.OutboxPending.Set(float64(len(o.items)))
	o.mu.Unlock()
	o.start(p)
	return p.clientID
}

// Retry restarts the send task for a failed or idle item. Retrying while
// a task is already in flight is a no-op.
func (o *Outbox) Retry(clientID string) error {
	o.mu.Lock()
	p := o.find(clientID)
	if p == nil {
		o.mu.Unlock()
		return ErrUnknownItem
	}
	inFlight := p.cancel != nil
	o.mu.Unlock()
	if inFlight {
		logger.Debug("outbox_retry_noop_inflight", "client_id", clientID)
		return nil
	}
	o.start(p)
	return nil
}

// Items returns snapshots in submission order.
func (o *Outbox) Items() []Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Item, len(o.items))
	for i, p := range o.items {
		out[i] = Item{
			ClientID:       p.clientID,
			ConversationID: p.conversationID,
			Content:        p.content,
			QueuedAt:       p.queuedAt,
			DidFail:        p.didFail,
			InFlight:       p.cancel != nil,
		}
	}
	return out
}

// Len returns the number of queued items.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Close cancels every in-flight task. Queued items keep their didFail
// state; a cancelled task never sets it.
func (o *Outbox) Close() {
	o.baseClose()
}

// find requires o.mu held.
func (o *Outbox) find(clientID string) *pending {
	for _, p := range o.items {
		if p.clientID == clientID {
			return p
		}
	}
	return nil
}

// start launches the send task unless one is already running for p.
func (o *Outbox) start(p *pending) {
	o.mu.Lock()
	if p.cancel != nil {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(o.base)
	p.cancel = cancel
	o.mu.Unlock()
	go o.run(ctx, p)
}

func (o *Outbox) run(ctx context.Context, p *pending) {
	if err := o.limiter.Wait(ctx); err != nil {
		// cancelled before the send started: drop the task, didFail
		// stays untouched
		o.clearTask(p)
		ops.OutboxSends.WithLabelValues("canceled").Inc()
		return
	}
	msg, err := o.sender.SendMessage(ctx, p.conversationID, p.content)
	if err != nil {
		canceled := ctx.Err() != nil
		o.mu.Lock()
		p.cancel = nil
		if !canceled {
			p.didFail = true
		}
		o.mu.Unlock()
		if canceled {
			ops.OutboxSends.WithLabelValues("canceled").Inc()
		} else {
			ops.OutboxSends.WithLabelValues("failure").Inc()
			logger.Warn("outbox_send_failed", "client_id", p.clientID, "err", err)
		}
		return
	}

	o.mu.Lock()
	p.cancel = nil
	for i, q := range o.items {
		if q == p {
			o.items = append(o.items[:i], o.items[i+1:]...)
			break
		}
	}
	ops.OutboxPending.Set(float64(len(o.items)))
	o.mu.Unlock()

	ops.OutboxSends.WithLabelValues("success").Inc()
	logger.Info("outbox_send_confirmed", "client_id", p.clientID, "id", msg.ID)
	if o.delegate != nil {
		o.delegate(msg)
	}
}

func (o *Outbox) clearTask(p *pending) {
	o.mu.Lock()
	p.cancel = nil
	o.mu.Unlock()
}
