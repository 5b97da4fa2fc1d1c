package bus

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the fallback polling cadence for subscriptions
// when filesystem notification is unavailable or quiet.
const DefaultPollInterval = 500 * time.Millisecond

// Subscription is a pull-based reader over one topic. It is restartable:
// construct it from any previously acknowledged sequence and it replays
// everything after that point before blocking for new records.
type Subscription struct {
	bus          *Bus
	topic        string
	afterSeq     int64
	types        []string
	pollInterval time.Duration

	pending []Record
	watcher *fsnotify.Watcher
	wake    chan struct{}
}

// SubscribeOptions tune a subscription.
type SubscribeOptions struct {
	// Types restricts delivery to these record types; empty means all.
	Types []string
	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration
}

// Subscribe opens a subscription on topic resuming after fromSeq. Other
// processes may publish concurrently; the subscription watches the
// database file to wake up early, with polling as the fallback.
//
// Close the subscription when done.
func (b *Bus) Subscribe(topic string, fromSeq int64, opts SubscribeOptions) *Subscription {
	sub := &Subscription{
		bus:          b,
		topic:        topic,
		afterSeq:     fromSeq,
		types:        opts.Types,
		pollInterval: opts.PollInterval,
		wake:         make(chan struct{}, 1),
	}
	if sub.pollInterval <= 0 {
		sub.pollInterval = DefaultPollInterval
	}

	// Watching the database directory catches both the db file and its
	// WAL sidecar. Failure here only costs latency, not records.
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(filepath.Dir(b.path))
	}
	if err != nil {
		slog.Debug("Bus subscription falling back to polling only", "error", err)
	} else {
		sub.watcher = watcher
		go sub.watch()
	}
	return sub
}

func (s *Subscription) watch() {
	base := filepath.Base(s.bus.path)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Next returns the next record, blocking until one is available or the
// context is done. Records arrive in sequence order with no gaps.
func (s *Subscription) Next(ctx context.Context) (Record, error) {
	for {
		if len(s.pending) > 0 {
			rec := s.pending[0]
			s.pending = s.pending[1:]
			s.afterSeq = rec.Seq
			return rec, nil
		}

		records, err := s.bus.Read(ctx, s.topic, s.afterSeq, ReadOptions{Types: s.types, Limit: 256})
		if err != nil {
			return Record{}, err
		}
		if len(records) > 0 {
			s.pending = records
			continue
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Record{}, ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Seq returns the sequence number of the last record Next delivered, i.e.
// the position a later subscription should resume from.
func (s *Subscription) Seq() int64 { return s.afterSeq }

func (s *Subscription) Close() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}
