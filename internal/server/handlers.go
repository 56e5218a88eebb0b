package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/KaramelBytes/admisi-cli/internal/analyzer"
	"github.com/KaramelBytes/admisi-cli/internal/detect"
	"github.com/KaramelBytes/admisi-cli/internal/dispatch"
	"github.com/KaramelBytes/admisi-cli/internal/ingest"
	"github.com/KaramelBytes/admisi-cli/internal/logging"
	"github.com/KaramelBytes/admisi-cli/internal/transform"
)

// session is one uploaded file moving through detect, confirm and dispatch.
type session struct {
	mu         sync.Mutex
	id         string
	created    time.Time
	table      *ingest.Table
	detection  *detect.Result
	validation *transform.Result
	seq        *dispatch.Sequencer
	cancel     context.CancelFunc
	deleted    bool
}

type sessionView struct {
	ID         string          `json:"id"`
	FileName   string          `json:"fileName"`
	FileType   string          `json:"fileType"`
	Rows       int             `json:"rows"`
	CreatedAt  time.Time       `json:"createdAt"`
	Detection  *detect.Result  `json:"detection"`
	Validation *validationView `json:"validation,omitempty"`
}

type validationView struct {
	Valid          int                        `json:"valid"`
	Invalid        int                        `json:"invalid"`
	Blocking       bool                       `json:"blocking"`
	Dispatchable   bool                       `json:"dispatchable"`
	Violations     []transform.ViolationCount `json:"violations"`
	InvalidRecords []transform.InvalidRecord  `json:"invalidRecords"`
	Records        []dispatch.Record          `json:"records,omitempty"`
}

type dispatchView struct {
	Progress dispatch.Progress `json:"progress"`
	Records  []dispatch.Record `json:"records"`
}

// caller holds sess.mu
func (sess *session) view() sessionView {
	v := sessionView{
		ID:        sess.id,
		FileName:  sess.table.FileName,
		FileType:  sess.table.FileType,
		Rows:      len(sess.table.Rows),
		CreatedAt: sess.created,
		Detection: sess.detection,
	}
	if sess.validation != nil {
		vv := sess.validationView()
		v.Validation = &vv
	}
	return v
}

// caller holds sess.mu
func (sess *session) validationView() validationView {
	res := sess.validation
	v := validationView{
		Valid:          len(res.Valid),
		Invalid:        len(res.Invalid),
		Blocking:       res.Blocking(),
		Dispatchable:   sess.seq != nil,
		Violations:     res.Summary(),
		InvalidRecords: res.Invalid,
	}
	if v.InvalidRecords == nil {
		v.InvalidRecords = []transform.InvalidRecord{}
	}
	if sess.seq != nil {
		v.Records = sess.seq.Records()
	}
	return v
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("%w: %s", errSessionNotFound, id))
		return nil, false
	}
	return sess, true
}

// readUpload parses the multipart "file" field into a table.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*ingest.Table, bool) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d bytes", limit))
			return nil, false
		}
		writeError(w, r, http.StatusBadRequest, errors.New("invalid multipart form"))
		return nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("no file provided"))
		return nil, false
	}
	defer file.Close()

	if !ingest.Supported(header.Filename) {
		writeError(w, r, http.StatusUnsupportedMediaType, fmt.Errorf("%w: %s", ingest.ErrUnsupported, header.Filename))
		return nil, false
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return nil, false
	}
	t, err := ingest.ParseBytes(header.Filename, data)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	return t, true
}

type analyzeResponse struct {
	*analyzer.Result
	Validation analyzer.Validation `json:"validation"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	t, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	res, err := analyzer.Analyze(r.Context(), t.Headers, t.Rows, t.FileName, t.Size, analyzer.Options{
		Catalog:  s.cfg.Catalog,
		Encoding: t.Encoding,
	})
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	logging.FromContext(r.Context()).Info("file analyzed", "file", t.FileName, "records", res.Summary.TotalRecords, "confidence", res.Metadata.Confidence)
	writeJSON(w, http.StatusOK, analyzeResponse{Result: res, Validation: analyzer.Validate(res, s.cfg.Catalog)})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	t, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	sess := &session{
		id:        uuid.NewString(),
		created:   time.Now().UTC(),
		table:     t,
		detection: s.detector.Detect(t.Headers, t.Rows),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	logging.WithFields(r.Context(), "session", sess.id, "file", t.FileName).Info("detection complete",
		"mapped", len(sess.detection.Mappings), "errors", len(sess.detection.Errors))
	sess.mu.Lock()
	defer sess.mu.Unlock()
	writeJSON(w, http.StatusCreated, sess.view())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	writeJSON(w, http.StatusOK, sess.view())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.mu.Lock()
	sess.deleted = true
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type remapRequest struct {
	SourceColumn string `json:"sourceColumn"`
	Column       *int   `json:"column,omitempty"`
	TargetField  string `json:"targetField"`
}

func (s *Server) handleRemap(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req remapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.seq != nil && sess.seq.Snapshot().Running {
		writeError(w, r, http.StatusConflict, dispatch.ErrAlreadyRunning)
		return
	}
	var err error
	if req.Column != nil {
		err = s.detector.Remap(sess.detection, *req.Column, req.TargetField)
	} else {
		err = s.detector.RemapByName(sess.detection, req.SourceColumn, req.TargetField)
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	// mappings changed, so any earlier confirmation is stale
	sess.validation = nil
	sess.seq = nil
	writeJSON(w, http.StatusOK, sess.detection)
}

type confirmRequest struct {
	AllowInvalid bool `json:"allowInvalid"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
			return
		}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.detection.Blocking() {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "required fields are not mapped",
			"errors": sess.detection.Errors,
		})
		return
	}
	if sess.seq != nil && sess.seq.Snapshot().Running {
		writeError(w, r, http.StatusConflict, dispatch.ErrAlreadyRunning)
		return
	}

	t := sess.table
	res := transform.Validate(transform.Transform(t.Rows, t.Headers, sess.detection.Mappings, s.cfg.Catalog), s.cfg.Catalog)
	sess.validation = &res
	sess.seq = nil
	seq, err := dispatch.FromValidation(res, s.cfg.Sender, dispatch.Options{
		Delay:        s.cfg.DispatchDelay,
		AllowInvalid: req.AllowInvalid,
		Logger:       slog.Default().With("session", sess.id),
	})
	if err == nil {
		sess.seq = seq
	}
	logging.WithFields(r.Context(), "session", sess.id).Info("batch confirmed",
		"valid", len(res.Valid), "invalid", len(res.Invalid), "dispatchable", sess.seq != nil)
	writeJSON(w, http.StatusOK, sess.validationView())
}

type selectRequest struct {
	IDs      []string `json:"ids"`
	All      bool     `json:"all"`
	Selected bool     `json:"selected"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	_, seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if req.All {
		seq.SelectAll(req.Selected)
	} else {
		ids := make([]uuid.UUID, 0, len(req.IDs))
		for _, raw := range req.IDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid record id %q", raw))
				return
			}
			ids = append(ids, id)
		}
		if err := seq.Select(ids, req.Selected); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, dispatchView{Progress: seq.Snapshot(), Records: seq.Records()})
}

// sequencer resolves the session's confirmed batch, writing 409 when there
// is none.
func (s *Server) sequencer(w http.ResponseWriter, r *http.Request) (*session, *dispatch.Sequencer, bool) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return nil, nil, false
	}
	sess.mu.Lock()
	seq := sess.seq
	sess.mu.Unlock()
	if seq == nil {
		writeError(w, r, http.StatusConflict, errors.New("no confirmed batch ready for dispatch"))
		return nil, nil, false
	}
	return sess, seq, true
}

func (s *Server) handleDispatchStatus(w http.ResponseWriter, r *http.Request) {
	_, seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dispatchView{Progress: seq.Snapshot(), Records: seq.Records()})
}

func (s *Server) handleDispatchStart(w http.ResponseWriter, r *http.Request) {
	sess, seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}
	if s.cfg.Sender == nil {
		writeError(w, r, http.StatusServiceUnavailable, errors.New("no gateway configured"))
		return
	}
	log := slog.Default().With("session", sess.id)
	ctx, cancel := context.WithCancel(s.runCtx)
	// held across Go so a concurrent delete always sees the new cancel
	sess.mu.Lock()
	if sess.deleted {
		sess.mu.Unlock()
		cancel()
		writeError(w, r, http.StatusNotFound, fmt.Errorf("%w: %s", errSessionNotFound, sess.id))
		return
	}
	err := seq.Go(ctx, func(err error) {
		cancel()
		if err != nil {
			log.Warn("dispatch stopped", "error", err)
		}
	})
	if err == nil {
		sess.cancel = cancel
	}
	sess.mu.Unlock()
	if err != nil {
		cancel()
		writeError(w, r, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, seq.Snapshot())
}

func (s *Server) handleDispatchPause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, (*dispatch.Sequencer).Pause)
}

func (s *Server) handleDispatchResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, (*dispatch.Sequencer).Resume)
}

func (s *Server) handleDispatchReset(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, (*dispatch.Sequencer).Reset)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, verb func(*dispatch.Sequencer) error) {
	_, seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}
	if err := verb(seq); err != nil {
		writeError(w, r, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, seq.Snapshot())
}
