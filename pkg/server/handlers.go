package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-go-golems/parley/pkg/attachments"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/store"
)

type sessionView struct {
	ID       string                 `json:"id"`
	State    session.State          `json:"state"`
	Messages []conversation.Message `json:"messages"`
}

func viewOf(m *session.Manager) sessionView {
	return sessionView{ID: m.ID(), State: m.State(), Messages: m.Transcript()}
}

// runView describes a started run. With ?wait=true the handler blocks
// until the run ends and Reply and Error are filled in.
type runView struct {
	SessionID   string                `json:"session_id"`
	InferenceID string                `json:"inference_id,omitempty"`
	State       session.State         `json:"state"`
	Reply       *conversation.Message `json:"reply,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func (s *Server) respondRun(w http.ResponseWriter, r *http.Request, m *session.Manager, h *session.ExecutionHandle) {
	if h == nil {
		writeJSON(w, http.StatusOK, runView{SessionID: m.ID(), State: m.State()})
		return
	}
	view := runView{SessionID: m.ID(), InferenceID: h.InferenceID}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		view.State = h.State()
		writeJSON(w, http.StatusAccepted, view)
		return
	}

	select {
	case <-h.Done():
	case <-r.Context().Done():
		// the client went away; the run continues
		return
	}
	reply, err := h.Wait()
	view.State = h.State()
	view.Reply = reply
	if err != nil {
		view.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	type item struct {
		ID    string        `json:"id"`
		State session.State `json:"state"`
	}
	items := []item{}
	for _, id := range s.sessionIDs() {
		if m, ok := s.lookup(id); ok {
			items = append(items, item{ID: id, State: m.State()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, created, err := s.openSession(r.Context(), req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, viewOf(m))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	m, err := s.session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, err := s.removeSession(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	m, err := s.session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := m.History(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: nonNil(records)})
}

type submitRequest struct {
	Text string `json:"text"`
	// Images are already hosted image URLs.
	Images []string `json:"images"`
	// Attachments are base64 or data URI payloads uploaded before the
	// message is appended.
	Attachments []string `json:"attachments"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	m, err := s.session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req submitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var options []session.SubmitOption
	for _, url := range req.Images {
		options = append(options, session.WithImageURL(url))
	}
	for _, a := range req.Attachments {
		data, err := attachments.DecodeDataURI(a)
		if err != nil {
			writeError(w, r, err)
			return
		}
		options = append(options, session.WithAttachment(data))
	}

	h, err := m.Submit(r.Context(), req.Text, options...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.respondRun(w, r, m, h)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	m, err := s.session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h, err := m.Edit(r.Context(), r.PathValue("messageID"), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.respondRun(w, r, m, h)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	m, err := s.session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h, err := m.Regenerate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.respondRun(w, r, m, h)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	m, err := s.session(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h := m.Active()
	if err := m.Cancel(); err != nil {
		writeError(w, r, err)
		return
	}
	if h != nil {
		select {
		case <-h.Done():
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

type historyResponse struct {
	Messages []store.Record `json:"messages"`
}

func nonNil(records []store.Record) []store.Record {
	if records == nil {
		return []store.Record{}
	}
	return records
}
