// Package daystore holds the in-memory, day-bucketed message cache for a
// single conversation. The store is owned by exactly one session; all
// mutations happen on that owner's loop, so the store itself does no
// locking. Interested parties subscribe for change notifications.
package daystore

import (
	"sort"
	"time"

	"convsync/pkg/models"
)

// Store groups messages by local calendar day. Every message appears in
// exactly one bucket, keyed by the start of its creation day; bucket
// lists stay sorted ascending by creation time after every mutation.
type Store struct {
	loc     *time.Location
	buckets map[int64][]models.Message
	subs    map[int]func()
	nextSub int
}

// New returns an empty store bucketing by days in loc. A nil loc means
// time.Local.
func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		loc:     loc,
		buckets: make(map[int64][]models.Message),
		subs:    make(map[int]func()),
	}
}

func (s *Store) dayKey(t time.Time) int64 {
	lt := t.In(s.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc).Unix()
}

// Subscribe registers a change callback invoked after every mutation that
// altered the store. The returned func cancels the subscription.
func (s *Store) Subscribe(fn func()) func() {
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() { delete(s.subs, id) }
}

func (s *Store) notify() {
	for _, fn := range s.subs {
		fn()
	}
}

func sortBucket(b []models.Message) {
	sort.SliceStable(b, func(i, j int) bool {
		if b[i].CreationDate.Equal(b[j].CreationDate) {
			return b[i].ID < b[j].ID
		}
		return b[i].CreationDate.Before(b[j].CreationDate)
	})
}

// Rebuild replaces the store contents from a flat message list, typically
// a newest-first REST page. Messages without a creation date are dropped.
func (s *Store) Rebuild(msgs []models.Message) {
	s.buckets = make(map[int64][]models.Message)
	for _, m := range msgs {
		if m.CreationDate.IsZero() {
			continue
		}
		k := s.dayKey(m.CreationDate)
		s.buckets[k] = append(s.buckets[k], m)
	}
	for _, b := range s.buckets {
		sortBucket(b)
	}
	s.notify()
}

// ApplyCreate inserts a message into its day bucket. A message whose ID is
// already present in the bucket is ignored, which makes duplicate delivery
// from the REST load and the live stream harmless. Reports whether the
// store changed.
func (s *Store) ApplyCreate(m models.Message) bool {
	if m.CreationDate.IsZero() {
		return false
	}
	k := s.dayKey(m.CreationDate)
	b, ok := s.buckets[k]
	if !ok {
		s.buckets[k] = []models.Message{m}
		s.notify()
		return true
	}
	for _, e := range b {
		if e.ID == m.ID {
			return false
		}
	}
	b = append(b, m)
	sortBucket(b)
	s.buckets[k] = b
	s.notify()
	return true
}

// ApplyUpdate replaces an existing entry in place; position is preserved
// since edits never change the creation time. Updates for messages not
// held locally are dropped; the next full reload picks them up.
func (s *Store) ApplyUpdate(m models.Message) bool {
	if !m.CreationDate.IsZero() {
		k := s.dayKey(m.CreationDate)
		b := s.buckets[k]
		for i, e := range b {
			if e.ID == m.ID {
				b[i] = m
				s.notify()
				return true
			}
		}
		return false
	}
	// no creation date on the payload: fall back to an ID scan, keeping
	// the stored creation date so the entry stays in its bucket
	for k, b := range s.buckets {
		for i, e := range b {
			if e.ID == m.ID {
				m.CreationDate = e.CreationDate
				s.buckets[k][i] = m
				s.notify()
				return true
			}
		}
	}
	return false
}

// ApplyDelete removes all entries matching the message's ID. The bucket is
// located by creation day when the payload carries one, otherwise every
// bucket is scanned. Returns the number of removed entries.
func (s *Store) ApplyDelete(m models.Message) int {
	removed := 0
	prune := func(k int64) {
		b := s.buckets[k]
		kept := b[:0]
		for _, e := range b {
			if e.ID == m.ID {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.buckets, k)
		} else {
			s.buckets[k] = kept
		}
	}
	if !m.CreationDate.IsZero() {
		prune(s.dayKey(m.CreationDate))
	} else {
		for k := range s.buckets {
			prune(k)
		}
	}
	if removed > 0 {
		s.notify()
	}
	return removed
}

// Days returns the bucket keys in ascending order.
func (s *Store) Days() []time.Time {
	keys := make([]int64, 0, len(s.buckets))
	for k := range s.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]time.Time, len(keys))
	for i, k := range keys {
		out[i] = time.Unix(k, 0).In(s.loc)
	}
	return out
}

// Bucket returns a copy of the messages for the given day.
func (s *Store) Bucket(day time.Time) []models.Message {
	b := s.buckets[s.dayKey(day)]
	out := make([]models.Message, len(b))
	copy(out, b)
	return out
}

// Flatten returns every message in day-then-time order. The ordering is
// stable across repeated rebuilds of the same input set.
func (s *Store) Flatten() []models.Message {
	var out []models.Message
	for _, d := range s.Days() {
		out = append(out, s.buckets[s.dayKey(d)]...)
	}
	return out
}

// Find locates a message by ID across all buckets.
func (s *Store) Find(id int64) (models.Message, bool) {
	for _, b := range s.buckets {
		for _, e := range b {
			if e.ID == id {
				return e, true
			}
		}
	}
	return models.Message{}, false
}

// Len returns the total number of messages held.
func (s *Store) Len() int {
	n := 0
	for _, b := range s.buckets {
		n += len(b)
	}
	return n
}
