package pebble

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Key layout:
//
//	msg:<seq, 20 digits>              -> JSON record
//	id:<record id>                    -> msg key
//	sess:<session id>:<seq, 20 digits> -> msg key
//
// The zero padding makes lexical order equal append order, so the newest
// records are read with a reverse scan, over msg: for a full listing and
// over one session's sess: range for a session listing.
const (
	msgPrefix  = "msg:"
	idPrefix   = "id:"
	sessPrefix = "sess:"
)

type Store struct {
	mu     sync.RWMutex
	db     *pebble.DB
	seq    uint64
	closed bool
}

func msgKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", msgPrefix, seq))
}

func idKey(id string) []byte {
	return []byte(idPrefix + id)
}

func sessionPrefix(sessionID string) string {
	return sessPrefix + sessionID + ":"
}

func sessionKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", sessionPrefix(sessionID), seq))
}

func prefixBounds(prefix string) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	}
}

func Open(ctx context.Context, dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("pebble store: empty path")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "pebble store: open")
	}
	s := &Store{db: db}
	if err := s.restoreSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("path", dir).Uint64("seq", s.seq).Msg("pebble store opened")
	return s, nil
}

func (s *Store) restoreSeq() error {
	iter, err := s.db.NewIter(prefixBounds(msgPrefix))
	if err != nil {
		return errors.Wrap(err, "pebble store: iterator")
	}
	defer func() {
		_ = iter.Close()
	}()
	if !iter.Last() {
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(string(iter.Key()), msgPrefix), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "pebble store: bad key %q", iter.Key())
	}
	s.seq = n
	return nil
}

func (s *Store) Append(ctx context.Context, r store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "pebble store: encode record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	_, closer, err := s.db.Get(idKey(r.ID))
	if err == nil {
		_ = closer.Close()
		return errors.Wrapf(store.ErrDuplicateID, "append %s", r.ID)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return errors.Wrap(err, "pebble store: lookup id")
	}

	seq := s.seq + 1
	key := msgKey(seq)
	batch := s.db.NewBatch()
	defer func() {
		_ = batch.Close()
	}()
	if err := batch.Set(key, value, nil); err != nil {
		return errors.Wrap(err, "pebble store: batch set")
	}
	if err := batch.Set(idKey(r.ID), key, nil); err != nil {
		return errors.Wrap(err, "pebble store: batch set")
	}
	if r.SessionID != "" {
		if err := batch.Set(sessionKey(r.SessionID, seq), key, nil); err != nil {
			return errors.Wrap(err, "pebble store: batch set")
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "pebble store: commit")
	}
	s.seq = seq
	return nil
}

func (s *Store) ListRecent(ctx context.Context, limit int, options ...store.ListOption) ([]store.Record, error) {
	if err := store.ValidateLimit(limit); err != nil {
		return nil, err
	}
	o := store.NewListOptions(options...)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	if o.SessionID != "" {
		return s.listSession(ctx, limit, o)
	}

	iter, err := s.db.NewIter(prefixBounds(msgPrefix))
	if err != nil {
		return nil, errors.Wrap(err, "pebble store: iterator")
	}
	defer func() {
		_ = iter.Close()
	}()

	ret := []store.Record{}
	for valid := iter.Last(); valid && len(ret) < limit; valid = iter.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r store.Record
		// Value is only valid until the iterator moves; Unmarshal copies.
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, errors.Wrapf(err, "pebble store: decode %q", iter.Key())
		}
		ret = append(ret, r)
	}
	return ret, iter.Error()
}

// listSession walks the session index newest first and resolves each entry
// to its record. Caller holds s.mu.
func (s *Store) listSession(ctx context.Context, limit int, o store.ListOptions) ([]store.Record, error) {
	iter, err := s.db.NewIter(prefixBounds(sessionPrefix(o.SessionID)))
	if err != nil {
		return nil, errors.Wrap(err, "pebble store: iterator")
	}
	defer func() {
		_ = iter.Close()
	}()

	ret := []store.Record{}
	for valid := iter.Last(); valid && len(ret) < limit; valid = iter.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value, closer, err := s.db.Get(iter.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "pebble store: resolve %q", iter.Key())
		}
		var r store.Record
		err = json.Unmarshal(value, &r)
		_ = closer.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "pebble store: decode %q", iter.Value())
		}
		// "sess:a:" is also a prefix of session "a:b"'s keys
		if o.Matches(r) {
			ret = append(ret, r)
		}
	}
	return ret, iter.Error()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
