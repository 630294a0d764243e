package api

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/identity"
	"github.com/ashureev/shsh-tutor/internal/progress"
	"github.com/ashureev/shsh-tutor/internal/selection"
)

const eventTimeout = 5 * time.Second

// RegisterRoutes registers the session, item and playlist routes under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.CreateSession)
	r.Get("/item/next", h.NextItem)
	r.Post("/answer", h.SubmitAnswer)
	r.Get("/progress", h.GetProgress)
	r.Get("/selection", h.GetSelection)
	r.Put("/playlist", h.SetPlaylist)
	r.Delete("/playlist", h.ClearPlaylist)
}

// CreateSession issues a new session cookie.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sid, err := h.issuer.Issue(w)
	if err != nil {
		h.logger.Error("Failed to issue session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"session_id": sid})
}

type serveResponse struct {
	SessionID string          `json:"session_id"`
	ServeID   string          `json:"serve_id"`
	Item      json.RawMessage `json:"item"`
	Serve     serveMeta       `json:"serve"`
}

type serveMeta struct {
	ChoiceOrder []string `json:"choice_order,omitempty"`
	Watermark   string   `json:"watermark"`
}

// NextItem serves the next item for the caller's session.
// Query parameters: type (explicit type override), policy (simple|engine).
func (h *Handler) NextItem(w http.ResponseWriter, r *http.Request) {
	sid := identity.SessionIDFromContext(r.Context())
	q := r.URL.Query()

	opts := selection.NextOptions{Policy: q.Get("policy")}
	if t := strings.TrimSpace(q.Get("type")); t != "" {
		opts.TargetType = &t
	}

	item, ok := h.selector.Next(sid, h.catalog.Items(), opts)
	if !ok {
		Error(w, http.StatusNotFound, "no items available")
		return
	}

	body, err := publicItem(item)
	if err != nil {
		h.logger.Error("Failed to encode item", "item_id", item.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to encode item")
		return
	}

	serveID := uuid.NewString()
	h.appendEvent(r.Context(), domain.AttemptEvent{
		SessionID: sid,
		ServeID:   serveID,
		ItemID:    item.ID,
		ItemType:  item.Type,
		Action:    domain.ActionServed,
	})

	JSON(w, http.StatusOK, serveResponse{
		SessionID: sid,
		ServeID:   serveID,
		Item:      body,
		Serve: serveMeta{
			ChoiceOrder: shuffledChoiceIDs(item),
			Watermark:   watermark(sid, time.Now()),
		},
	})
}

type answerRequest struct {
	ItemID   string `json:"item_id" validate:"required,max=256"`
	StepID   string `json:"step_id,omitempty" validate:"max=256"`
	ChoiceID string `json:"choice_id,omitempty" validate:"max=256"`
	ServeID  string `json:"serve_id,omitempty" validate:"max=64"`

	// SessionID is accepted for older clients; the cookie is authoritative.
	SessionID string `json:"session_id,omitempty" validate:"max=64"`
}

type answerResponse struct {
	AttemptID string `json:"attempt_id"`
	ItemID    string `json:"item_id"`
	Correct   *bool  `json:"correct"`
}

// SubmitAnswer grades an answer and records it.
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	item, ok := h.catalog.Find(req.ItemID)
	if !ok {
		Error(w, http.StatusNotFound, "item not found")
		return
	}

	sid := identity.SessionIDFromContext(r.Context())
	correct := h.grader.Grade(item, req.StepID, req.ChoiceID)
	attemptID := ulid.Make().String()

	h.appendEvent(r.Context(), domain.AttemptEvent{
		SessionID: sid,
		ServeID:   req.ServeID,
		AttemptID: attemptID,
		ItemID:    item.ID,
		ItemType:  item.Type,
		Action:    domain.ActionAnswered,
		Correct:   correct,
	})

	JSON(w, http.StatusOK, answerResponse{AttemptID: attemptID, ItemID: item.ID, Correct: correct})
}

// GetProgress summarizes the caller's answered events by item type.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	sid := identity.SessionIDFromContext(r.Context())

	events, err := h.repo.ReadEventsForSession(r.Context(), sid)
	if err != nil {
		h.metrics.ObservePersistError(h.repo.Backend(), "read_events")
		h.logger.Warn("Failed to read events, reporting what was read",
			"session_id", sid,
			"error", err,
		)
	}
	JSON(w, http.StatusOK, progress.Summarize(sid, events))
}

// GetSelection returns the caller's selection state.
func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	sid := identity.SessionIDFromContext(r.Context())
	snap, ok := h.selector.Snapshot(sid)
	if !ok {
		Error(w, http.StatusNotFound, "no selection state for session")
		return
	}
	JSON(w, http.StatusOK, snap)
}

type playlistRequest struct {
	IDs []string `json:"ids" validate:"required,max=1000"`
}

// SetPlaylist restricts the caller's session to an ordered list of item ids.
func (h *Handler) SetPlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	sid := identity.SessionIDFromContext(r.Context())
	JSON(w, http.StatusOK, h.selector.SetPlaylist(sid, req.IDs))
}

// ClearPlaylist removes the caller's playlist restriction.
func (h *Handler) ClearPlaylist(w http.ResponseWriter, r *http.Request) {
	sid := identity.SessionIDFromContext(r.Context())
	JSON(w, http.StatusOK, h.selector.ClearPlaylist(sid))
}

// appendEvent records an event. Failures are logged and never reach the client.
func (h *Handler) appendEvent(ctx context.Context, ev domain.AttemptEvent) {
	if !h.repo.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()

	if err := h.repo.AppendEvent(ctx, ev); err != nil {
		h.metrics.ObservePersistError(h.repo.Backend(), "append_event")
		h.logger.Warn("Failed to append event",
			"session_id", ev.SessionID,
			"item_id", ev.ItemID,
			"action", ev.Action,
			"error", err,
		)
		return
	}
	h.metrics.ObserveEvent(string(ev.Action))
}

// publicItem encodes item without its answer key.
func publicItem(item domain.Item) (json.RawMessage, error) {
	if _, ok := item.Extra["answer_key"]; ok {
		item.Extra = maps.Clone(item.Extra)
		delete(item.Extra, "answer_key")
	}
	return json.Marshal(item)
}

// shuffledChoiceIDs returns the item's top-level choice ids in random order.
func shuffledChoiceIDs(item domain.Item) []string {
	var choices []struct {
		ID string `json:"id"`
	}
	if ok, err := item.Field("choices", &choices); !ok || err != nil {
		return nil
	}
	ids := make([]string, 0, len(choices))
	for _, c := range choices {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

// watermark tags a serve with the session and the current minute.
func watermark(sessionID string, now time.Time) string {
	return fmt.Sprintf("%s_%d", sessionID, now.Unix()/60)
}
