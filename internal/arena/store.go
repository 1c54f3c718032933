package arena

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/stagegate/stagegate/internal/notify"
	"github.com/stagegate/stagegate/internal/platform/codec"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
	"github.com/stagegate/stagegate/internal/platform/timeouts"
)

// arenaTag is the fixed tag the storage locations derive from. Every
// transaction recomputes the same bucket names from it, so no module can end
// up reading or writing a private aggregate.
const arenaTag = "stagegate.arena.v1"

// stateKey addresses the single aggregate record inside the arena bucket.
const stateKey = "state"

// arenaBucket and journalBucket are the deterministic storage locations,
// computed once at package init from the fixed tag.
var (
	arenaBucket   = deriveBucket(arenaTag)
	journalBucket = deriveBucket(arenaTag + "/journal")
)

// deriveBucket maps a tag to a bucket name: the hex form of the first 16
// bytes of the tag's SHA-256 digest.
func deriveBucket(tag string) []byte {
	sum := sha256.Sum256([]byte(tag))
	return []byte(hex.EncodeToString(sum[:16]))
}

// Store provides the BoltDB-backed shared storage arena. Update is the
// atomic transaction boundary the whole execution model leans on: a call
// either commits every state change and notification it produced, or none.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Txn is the handle a call mutates. State is the live aggregate; Log
// collects state-change notifications that are journaled only on commit.
type Txn struct {
	State *State
	Log   *notify.Log
}

// Open opens the arena store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: timeouts.StorageOpen})
	if err != nil {
		return nil, fmt.Errorf("open arena db: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock overrides the notification clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Update runs fn against the live aggregate inside one write transaction.
// When fn returns nil the mutated aggregate is persisted and the pending
// notifications are appended to the journal; when fn fails nothing is
// written and the error propagates unchanged.
func (s *Store) Update(ctx context.Context, fn func(txn *Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("arena storage is not configured")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		state, err := loadState(tx)
		if err != nil {
			return err
		}

		txn := &Txn{State: state, Log: notify.NewLog(s.now)}
		if err := fn(txn); err != nil {
			return err
		}

		if err := saveState(tx, state); err != nil {
			return err
		}
		return appendJournal(tx, txn.Log.Pending())
	})
}

// View runs fn against a read-only snapshot of the aggregate.
func (s *Store) View(ctx context.Context, fn func(state *State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("arena storage is not configured")
	}

	return s.db.View(func(tx *bbolt.Tx) error {
		state, err := loadState(tx)
		if err != nil {
			return err
		}
		return fn(state)
	})
}

// Notifications returns up to limit journaled notifications with sequence
// numbers strictly greater than afterSeq, in sequence order.
func (s *Store) Notifications(ctx context.Context, afterSeq uint64, limit int) ([]notify.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("arena storage is not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	var events []notify.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(journalBucket)
		if bucket == nil {
			return fmt.Errorf("journal bucket is missing")
		}

		cursor := bucket.Cursor()
		start := journalKey(afterSeq + 1)
		for k, v := cursor.Seek(start); k != nil && len(events) < limit; k, v = cursor.Next() {
			var evt notify.Event
			if err := codec.Unmarshal(v, &evt); err != nil {
				return fmt.Errorf("unmarshal journal event: %w", err)
			}
			events = append(events, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(arenaBucket); err != nil {
			return fmt.Errorf("create arena bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(journalBucket); err != nil {
			return fmt.Errorf("create journal bucket: %w", err)
		}
		return nil
	})
}

func loadState(tx *bbolt.Tx) (*State, error) {
	bucket := tx.Bucket(arenaBucket)
	if bucket == nil {
		return nil, fmt.Errorf("arena bucket is missing")
	}

	state := &State{}
	if payload := bucket.Get([]byte(stateKey)); payload != nil {
		if err := codec.Unmarshal(payload, state); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorage, "unmarshal arena state", err)
		}
	}
	state.EnsureMaps()
	return state, nil
}

func saveState(tx *bbolt.Tx, state *State) error {
	payload, err := codec.Marshal(state)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorage, "marshal arena state", err)
	}

	bucket := tx.Bucket(arenaBucket)
	if bucket == nil {
		return fmt.Errorf("arena bucket is missing")
	}
	return bucket.Put([]byte(stateKey), payload)
}

func appendJournal(tx *bbolt.Tx, events []notify.Event) error {
	if len(events) == 0 {
		return nil
	}

	bucket := tx.Bucket(journalBucket)
	if bucket == nil {
		return fmt.Errorf("journal bucket is missing")
	}

	for _, evt := range events {
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("journal sequence: %w", err)
		}
		evt.Seq = seq

		payload, err := codec.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal journal event: %w", err)
		}
		if err := bucket.Put(journalKey(seq), payload); err != nil {
			return fmt.Errorf("append journal event: %w", err)
		}
	}
	return nil
}

func journalKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
