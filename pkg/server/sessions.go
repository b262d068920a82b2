package server

import (
	"context"
	"sort"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrSessionNotFound = errors.New("session not found")

// openSession returns the live session with id, or creates it. A session
// created with a known id is loaded from the store.
func (s *Server) openSession(ctx context.Context, id string) (*session.Manager, bool, error) {
	if id != "" {
		if m, ok := s.lookup(id); ok {
			return m, false, nil
		}
	}

	options := append([]session.Option{}, s.sessionOptions...)
	if id != "" {
		options = append(options, session.WithSessionID(id))
	}
	if s.store != nil {
		options = append(options, session.WithStore(s.store))
	}
	if s.uploader != nil {
		options = append(options, session.WithUploader(s.uploader))
	}
	if s.router != nil {
		options = append(options, session.WithEventSinks(s.router.Sink(events.TopicChat)))
	}
	options = append(options, session.WithHistoryLimit(s.settings.HistoryLimit))

	m, err := session.NewManager(s.engine, options...)
	if err != nil {
		return nil, false, err
	}
	if id != "" && s.store != nil {
		if err := m.Load(ctx); err != nil {
			_ = m.Close()
			return nil, false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// lost a race against a concurrent create with the same id
	if existing, ok := s.sessions[m.ID()]; ok {
		_ = m.Close()
		return existing, false, nil
	}
	s.sessions[m.ID()] = m
	log.Debug().Str("session_id", m.ID()).Int("messages", len(m.Transcript())).Msg("session opened")
	return m, true, nil
}

func (s *Server) lookup(id string) (*session.Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[id]
	return m, ok
}

func (s *Server) session(id string) (*session.Manager, error) {
	m, ok := s.lookup(id)
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "%s", id)
	}
	return m, nil
}

func (s *Server) removeSession(id string) (*session.Manager, error) {
	s.mu.Lock()
	m, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "%s", id)
	}
	return m, m.Close()
}

func (s *Server) sessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
