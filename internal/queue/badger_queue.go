package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerPrefix       = "queue:"
	badgerJobPrefix    = badgerPrefix + "job:"
	badgerIndexPrefix  = badgerPrefix + "idx:"
	badgerActivePrefix = badgerPrefix + "active:"
	badgerCompletedKey = badgerPrefix + "stat:completed"
	badgerFailedKey    = badgerPrefix + "stat:failed"

	defaultPollInterval = time.Second
)

// BadgerQueue is a durable single-node job queue stored in Badger. Jobs are
// ordered by priority, then by the time they become ready. One pending job is
// kept per run; sending again for a run replaces its pending job.
type BadgerQueue struct {
	db           *badger.DB
	now          func() time.Time
	pollInterval time.Duration
}

// NewBadgerQueue wraps db. The database may be shared with the response
// cache; queue keys live under "queue:".
func NewBadgerQueue(db *badger.DB) *BadgerQueue {
	return &BadgerQueue{db: db, now: time.Now, pollInterval: defaultPollInterval}
}

// WithClock overrides the clock and poll interval, for tests.
func (q *BadgerQueue) WithClock(now func() time.Time, poll time.Duration) *BadgerQueue {
	q.now = now
	q.pollInterval = poll
	return q
}

func jobKey(priority int, readyAt time.Time, runID string) string {
	return fmt.Sprintf("%s%03d:%020d:%s", badgerJobPrefix, priority, readyAt.UnixNano(), runID)
}

func parseJobKey(key string) (readyAt time.Time, runID string, ok bool) {
	parts := strings.SplitN(strings.TrimPrefix(key, badgerJobPrefix), ":", 3)
	if len(parts) != 3 {
		return time.Time{}, "", false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.Unix(0, nanos), parts[2], true
}

// Send enqueues msg ready immediately.
func (q *BadgerQueue) Send(ctx context.Context, msg Message) error {
	return q.put(ctx, msg, q.now())
}

func (q *BadgerQueue) put(ctx context.Context, msg Message, readyAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.RunID) == "" {
		return fmt.Errorf("queue message missing run id")
	}
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	if msg.Priority <= 0 {
		msg.Priority = PriorityNormal
	}
	body, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	key := jobKey(msg.Priority, readyAt, msg.RunID)
	return q.db.Update(func(txn *badger.Txn) error {
		if _, err := removePending(txn, msg.RunID); err != nil {
			return err
		}
		if err := txn.Set([]byte(key), body); err != nil {
			return err
		}
		return txn.Set([]byte(badgerIndexPrefix+msg.RunID), []byte(key))
	})
}

// removePending deletes the pending job of runID, if any, and reports whether
// one existed.
func removePending(txn *badger.Txn, runID string) (bool, error) {
	item, err := txn.Get([]byte(badgerIndexPrefix + runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	if err := txn.Delete(key); err != nil {
		return false, err
	}
	return true, txn.Delete([]byte(badgerIndexPrefix + runID))
}

// Remove drops the pending job of runID. Jobs already handed to a worker are
// not affected.
func (q *BadgerQueue) Remove(ctx context.Context, runID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var removed bool
	err := q.db.Update(func(txn *badger.Txn) error {
		var err error
		removed, err = removePending(txn, runID)
		return err
	})
	return removed, err
}

// Receive claims up to limit ready jobs. When none are ready it waits one
// poll interval and returns nothing.
func (q *BadgerQueue) Receive(ctx context.Context, limit int) ([]Delivery, error) {
	out, err := q.claim(max(1, limit))
	if err != nil || len(out) > 0 {
		return out, err
	}
	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (q *BadgerQueue) claim(limit int) ([]Delivery, error) {
	now := q.now()
	var out []Delivery
	err := q.db.Update(func(txn *badger.Txn) error {
		type ready struct {
			key   []byte
			runID string
			body  []byte
		}
		var picked []ready

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		prefix := []byte(badgerJobPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(picked) < limit; it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			readyAt, runID, ok := parseJobKey(string(key))
			if !ok || readyAt.After(now) {
				continue
			}
			body, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			picked = append(picked, ready{key: key, runID: runID, body: body})
		}
		it.Close()

		for _, p := range picked {
			if err := txn.Delete(p.key); err != nil {
				return err
			}
			if err := txn.Delete([]byte(badgerIndexPrefix + p.runID)); err != nil {
				return err
			}
			if err := txn.Set([]byte(badgerActivePrefix+p.runID), p.body); err != nil {
				return err
			}
			msg, err := DecodeMessage(p.body)
			if err != nil {
				msg = Message{RunID: p.runID, Attempt: 1}
			}
			out = append(out, Delivery{
				ID:           p.runID,
				Body:         string(p.body),
				ReceiveCount: max(1, msg.Attempt),
				Settler:      badgerSettler{q: q, msg: msg, runID: p.runID},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecoverActive returns jobs that were claimed but never settled, for example
// after a crash, to the ready set. It reports how many were moved.
func (q *BadgerQueue) RecoverActive(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := q.now()
	var moved int
	err := q.db.Update(func(txn *badger.Txn) error {
		type active struct {
			key  []byte
			body []byte
		}
		var found []active
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		prefix := []byte(badgerActivePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			body, err := it.Item().ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			found = append(found, active{key: it.Item().KeyCopy(nil), body: body})
		}
		it.Close()

		for _, a := range found {
			runID := strings.TrimPrefix(string(a.key), badgerActivePrefix)
			msg, err := DecodeMessage(a.body)
			priority := PriorityNormal
			if err == nil && msg.Priority > 0 {
				priority = msg.Priority
			}
			key := jobKey(priority, now, runID)
			if err := txn.Delete(a.key); err != nil {
				return err
			}
			if err := txn.Set([]byte(key), a.body); err != nil {
				return err
			}
			if err := txn.Set([]byte(badgerIndexPrefix+runID), []byte(key)); err != nil {
				return err
			}
			moved++
		}
		return nil
	})
	return moved, err
}

// Stats counts pending, delayed and active jobs plus lifetime outcomes.
func (q *BadgerQueue) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	now := q.now()
	var st Stats
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		jobs := []byte(badgerJobPrefix)
		for it.Seek(jobs); it.ValidForPrefix(jobs); it.Next() {
			readyAt, _, ok := parseJobKey(string(it.Item().Key()))
			if !ok {
				continue
			}
			if readyAt.After(now) {
				st.Delayed++
			} else {
				st.Waiting++
			}
		}
		active := []byte(badgerActivePrefix)
		for it.Seek(active); it.ValidForPrefix(active); it.Next() {
			st.Active++
		}
		var err error
		if st.Completed, err = readCounter(txn, badgerCompletedKey); err != nil {
			return err
		}
		st.Failed, err = readCounter(txn, badgerFailedKey)
		return err
	})
	return st, err
}

func readCounter(txn *badger.Txn, key string) (int, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) == 8 {
			n = binary.BigEndian.Uint64(val)
		}
		return nil
	})
	return int(n), err
}

func incCounter(txn *badger.Txn, key string) error {
	n, err := readCounter(txn, key)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n)+1)
	return txn.Set([]byte(key), buf)
}

type badgerSettler struct {
	q     *BadgerQueue
	msg   Message
	runID string
}

func (s badgerSettler) Ack(ctx context.Context) error {
	return s.finish(ctx, badgerCompletedKey)
}

func (s badgerSettler) Drop(ctx context.Context) error {
	return s.finish(ctx, badgerFailedKey)
}

func (s badgerSettler) finish(ctx context.Context, counter string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(badgerActivePrefix + s.runID)); err != nil {
			return err
		}
		return incCounter(txn, counter)
	})
}

// Retry re-queues the job delay from now with its attempt incremented.
func (s badgerSettler) Retry(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := s.msg
	msg.Attempt = max(1, msg.Attempt) + 1
	if err := s.q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerActivePrefix + s.runID))
	}); err != nil {
		return err
	}
	return s.q.put(ctx, msg, s.q.now().Add(delay))
}

var (
	_ Client        = (*BadgerQueue)(nil)
	_ Consumer      = (*BadgerQueue)(nil)
	_ Remover       = (*BadgerQueue)(nil)
	_ StatsReporter = (*BadgerQueue)(nil)
)
