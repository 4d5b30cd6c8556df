package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// State is the delivery state of an outbox entry.
type State uint8

const (
	StateNew State = iota
	StateDelivered
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateDelivered:
		return "DELIVERED"
	default:
		return "UNKNOWN"
	}
}

var (
	keyPrefix = []byte("event/")
	keyUpper  = []byte("event0")
)

// Outbox is a durable Sink. Events are stored in pebble as NEW and move to
// DELIVERED once a Relay has published them.
type Outbox struct {
	db *pebble.DB

	mu  sync.Mutex // serializes sequence assignment
	seq uint64

	// cursor is the lowest sequence not known to be DELIVERED. Every entry
	// below it is delivered, so Pending starts its scan there.
	cursorMu sync.Mutex
	cursor   uint64
}

// Open opens or creates an outbox under dir. A nil fs uses the OS
// filesystem.
func Open(dir string, fs vfs.FS) (*Outbox, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open audit outbox: %w", err)
	}
	o := &Outbox{db: db}
	if o.seq, err = o.lastSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

// Close closes the underlying store.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Record stores events as NEW in one synced batch. Sequence numbers continue
// from the highest one on disk.
func (o *Outbox) Record(events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()

	seq := o.seq
	for _, e := range events {
		seq++
		e.Seq = seq
		val, err := encodeEntry(StateNew, e)
		if err != nil {
			return err
		}
		if err := b.Set(keyFor(seq), val, nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit audit events: %w", err)
	}
	o.seq = seq
	return nil
}

// Pending returns up to limit NEW events in sequence order. The scan starts
// at the first entry not yet known to be delivered and moves that cursor
// past the delivered prefix it walks over.
func (o *Outbox) Pending(limit int) ([]Event, error) {
	o.cursorMu.Lock()
	defer o.cursorMu.Unlock()

	var out []Event
	prefix := true
	err := o.scanFrom(keyFor(o.cursor), func(state State, e Event) bool {
		if state == StateNew {
			prefix = false
			out = append(out, e)
		} else if prefix {
			o.cursor = e.Seq + 1
		}
		return len(out) < limit
	})
	return out, err
}

// MarkDelivered moves the given events to DELIVERED.
func (o *Outbox) MarkDelivered(events []Event) error {
	b := o.db.NewBatch()
	defer b.Close()
	for _, e := range events {
		val, err := encodeEntry(StateDelivered, e)
		if err != nil {
			return err
		}
		if err := b.Set(keyFor(e.Seq), val, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// Get returns the state and content of one entry.
func (o *Outbox) Get(seq uint64) (State, Event, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return 0, Event{}, err
	}
	defer closer.Close()
	return decodeEntry(val)
}

// Counts returns how many entries are in each state.
func (o *Outbox) Counts() (map[State]int, error) {
	counts := make(map[State]int)
	err := o.scan(func(state State, _ Event) bool {
		counts[state]++
		return true
	})
	return counts, err
}

func (o *Outbox) scan(fn func(State, Event) bool) error {
	return o.scanFrom(keyPrefix, fn)
}

func (o *Outbox) scanFrom(lower []byte, fn func(State, Event) bool) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		state, e, err := decodeEntry(iter.Value())
		if err != nil {
			return err
		}
		if !fn(state, e) {
			break
		}
	}
	return iter.Error()
}

func (o *Outbox) lastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: keyUpper,
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// keys: event/<seq as 8 big-endian bytes>, so byte order is sequence order.
func keyFor(seq uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], seq)
	return k
}

func parseKey(k []byte) (uint64, error) {
	if len(k) != len(keyPrefix)+8 {
		return 0, errors.New("invalid outbox key length")
	}
	return binary.BigEndian.Uint64(k[len(keyPrefix):]), nil
}

// values: [state:1][event json]
func encodeEntry(state State, e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(state)}, body...), nil
}

func decodeEntry(b []byte) (State, Event, error) {
	if len(b) < 2 {
		return 0, Event{}, errors.New("invalid outbox entry")
	}
	var e Event
	if err := json.Unmarshal(b[1:], &e); err != nil {
		return 0, Event{}, err
	}
	return State(b[0]), e, nil
}
