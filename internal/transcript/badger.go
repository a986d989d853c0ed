package transcript

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// BadgerStore keeps transcripts in an embedded BadgerDB with msgpack values.
//
// Layout:
//
//	t:<request_id>                                     -> msgpack(Transcript)
//	u:<hex(user_id)>:<completed_unix_nano>:<request_id> -> request_id
//
// The user segment is hex so no user id can be a prefix of another's keys.
type BadgerStore struct {
	db *badger.DB
}

type BadgerOptions struct {
	Dir string

	// InMemory runs badger without disk persistence, for tests.
	InMemory bool
}

func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("transcript: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func transcriptKey(requestID string) []byte {
	return []byte("t:" + requestID)
}

func userPrefix(userID string) []byte {
	return []byte("u:" + hex.EncodeToString([]byte(userID)) + ":")
}

func userKey(userID string, completedAt time.Time, requestID string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", userPrefix(userID), completedAt.UnixNano(), requestID))
}

func (s *BadgerStore) Save(_ context.Context, t Transcript) error {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if prev, err := getTxn(txn, t.RequestID); err == nil {
			if err := txn.Delete(userKey(prev.UserID, prev.CompletedAt, prev.RequestID)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(transcriptKey(t.RequestID), data); err != nil {
			return err
		}
		return txn.Set(userKey(t.UserID, t.CompletedAt, t.RequestID), []byte(t.RequestID))
	})
}

func (s *BadgerStore) Get(_ context.Context, requestID string) (Transcript, error) {
	var out Transcript
	err := s.db.View(func(txn *badger.Txn) error {
		t, err := getTxn(txn, requestID)
		out = t
		return err
	})
	return out, err
}

func getTxn(txn *badger.Txn, requestID string) (Transcript, error) {
	item, err := txn.Get(transcriptKey(requestID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Transcript{}, ErrNotFound
	}
	if err != nil {
		return Transcript{}, err
	}
	var t Transcript
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &t)
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("decode transcript %s: %w", requestID, err)
	}
	return t, nil
}

// Recent walks the user index backwards so the newest come first.
func (s *BadgerStore) Recent(_ context.Context, userID string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 10
	}
	prefix := userPrefix(userID)
	seek := append(append([]byte{}, prefix...), 0xff)

	var out []Transcript
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			t, err := getTxn(txn, string(id))
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recent transcripts: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger warnings and errors through the standard logger
// and drops its info and debug chatter.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { log.Printf("[badger] ERROR: "+f, v...) }
func (badgerLogger) Warningf(f string, v ...interface{}) { log.Printf("[badger] WARN: "+f, v...) }
func (badgerLogger) Infof(string, ...interface{})        {}
func (badgerLogger) Debugf(string, ...interface{})       {}
