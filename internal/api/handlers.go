package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/pairpad/server/internal/history"
	"github.com/pairpad/server/internal/registry"
	"github.com/pairpad/server/internal/store"
	"github.com/pairpad/server/internal/suggest"
)

type API struct {
	registry  *registry.Registry
	documents store.DocumentStore
	history   store.HistoryStore // nil when the backend has no history
}

func New(reg *registry.Registry, documents store.DocumentStore) *API {
	a := &API{
		registry:  reg,
		documents: documents,
	}
	if hs, ok := documents.(store.HistoryStore); ok {
		a.history = hs
	}
	return a
}

// Register mounts all REST routes on the router.
func (a *API) Register(r chi.Router) {
	r.Get("/health", a.Health)
	r.Get("/api/stats", a.Stats)

	r.Route("/api/rooms", func(r chi.Router) {
		r.Get("/", a.ListRooms)
		r.Post("/", a.CreateRoom)
		r.Route("/{roomID}", func(r chi.Router) {
			r.Get("/", a.GetRoom)
			r.Delete("/", a.DeleteRoom)
			if a.history != nil {
				r.Get("/history", a.ListHistory)
				r.Post("/history", a.CreateHistory)
			}
		})
	})

	if a.history != nil {
		r.Get("/api/history/diff", a.DiffHistory)
		r.Route("/api/history/{historyID}", func(r chi.Router) {
			r.Get("/", a.GetHistory)
			r.Delete("/", a.DeleteHistory)
			r.Post("/restore", a.RestoreHistory)
		})
		logrus.Info("history API routes registered")
	} else {
		logrus.Warn("history API not available for this storage backend")
	}

	r.Post("/api/suggest", a.Suggest)
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":   a.registry.RoomCount(),
		"active_clients": a.registry.ConnCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if ss, ok := a.documents.(store.StatsStore); ok {
		if totals, err := ss.Stats(r.Context()); err == nil {
			stats["total_rooms"] = totals.Rooms
			stats["total_history_entries"] = totals.HistoryEntries
		}
	}

	render.JSON(w, r, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := a.registry.CreateRoom(r.Context())
	if err != nil {
		logrus.WithField("error", err).Error("failed to create room")
		http.Error(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateRoomResponse{RoomID: roomID})
}

func (a *API) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.documents.List(r.Context(), limit, offset)
	if err != nil {
		logrus.WithField("error", err).Error("failed to list rooms")
		http.Error(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}

	activeRooms := a.registry.ActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{
			ID:          room.ID,
			CreatedAt:   room.CreatedAt,
			UpdatedAt:   room.UpdatedAt,
			ActiveUsers: activeRooms[room.ID],
		}
	}

	render.JSON(w, r, map[string]any{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	room, err := a.documents.Get(r.Context(), roomID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("failed to get room")
		http.Error(w, "Failed to get room", http.StatusInternalServerError)
		return
	}

	activeRooms := a.registry.ActiveRooms()
	render.JSON(w, r, RoomResponse{
		ID:          room.ID,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
		ActiveUsers: activeRooms[roomID],
	})
}

func (a *API) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	if err := a.documents.Delete(r.Context(), roomID); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("failed to delete room")
		http.Error(w, "Failed to delete room", http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, map[string]string{"message": "Room deleted"})
}

// Suggestion handler

type SuggestRequest struct {
	Code           string `json:"code"`
	CursorPosition int    `json:"cursorPosition"`
	Language       string `json:"language"`
}

type SuggestResponse struct {
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
}

func (a *API) Suggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.CursorPosition < 0 {
		http.Error(w, "cursorPosition must be non-negative", http.StatusBadRequest)
		return
	}

	suggestion, confidence := suggest.Generate(req.Code, req.CursorPosition, req.Language)
	render.JSON(w, r, SuggestResponse{
		Suggestion: suggestion,
		Confidence: confidence,
	})
}

// History handlers

type CreateHistoryRequest struct {
	Label string `json:"label"`
}

func (a *API) ListHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := a.history.ListHistory(r.Context(), roomID, limit, offset)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("failed to list history")
		http.Error(w, "Failed to list history", http.StatusInternalServerError)
		return
	}

	if entries == nil {
		entries = []store.HistoryEntry{}
	}

	render.JSON(w, r, map[string]any{
		"history": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// CreateHistory snapshots the room's current text as a named entry.
// Duplicate content is answered with the latest entry instead of a new
// row.
func (a *API) CreateHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req CreateHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Prefer the live in-memory text; fall back to the stored copy.
	code, ok := a.registry.Code(roomID)
	if !ok {
		var err error
		code, err = a.documents.Load(r.Context(), roomID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Room not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("failed to load room")
			http.Error(w, "Failed to load room", http.StatusInternalServerError)
			return
		}
	}

	if req.Label == "" {
		req.Label = fmt.Sprintf("Version %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	hash := history.Hash(code)
	latest, err := a.history.LatestHistory(r.Context(), roomID)
	if err == nil && latest != nil && latest.CodeHash == hash {
		render.JSON(w, r, latest)
		return
	}

	entry, err := a.history.AddHistory(r.Context(), roomID, req.Label, code, hash, false)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("failed to create history entry")
		http.Error(w, "Failed to create history entry", http.StatusInternalServerError)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, entry)
}

func (a *API) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "historyID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid history id", http.StatusBadRequest)
		return
	}

	entry, err := a.history.GetHistory(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "History entry not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{"history_id": id, "error": err}).Error("failed to get history entry")
		http.Error(w, "Failed to get history entry", http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, entry)
}

func (a *API) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "historyID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid history id", http.StatusBadRequest)
		return
	}

	if err := a.history.DeleteHistory(r.Context(), id); err != nil {
		logrus.WithFields(logrus.Fields{"history_id": id, "error": err}).Error("failed to delete history entry")
		http.Error(w, "Failed to delete history entry", http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, map[string]string{"message": "History entry deleted"})
}

func (a *API) DiffHistory(w http.ResponseWriter, r *http.Request) {
	fromID, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid 'from' history id", http.StatusBadRequest)
		return
	}

	toID, err := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid 'to' history id", http.StatusBadRequest)
		return
	}

	from, err := a.history.GetHistory(r.Context(), fromID)
	if err != nil {
		http.Error(w, "From entry not found", http.StatusNotFound)
		return
	}

	to, err := a.history.GetHistory(r.Context(), toID)
	if err != nil {
		http.Error(w, "To entry not found", http.StatusNotFound)
		return
	}

	render.JSON(w, r, map[string]any{
		"from": from,
		"to":   to,
		"diff": history.Diff(from.Code, to.Code),
	})
}

// RestoreHistory re-snapshots an old entry as the newest one and
// returns its content for the client to apply.
func (a *API) RestoreHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "historyID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid history id", http.StatusBadRequest)
		return
	}

	entry, err := a.history.GetHistory(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "History entry not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{"history_id": id, "error": err}).Error("failed to get history entry")
		http.Error(w, "Failed to get history entry", http.StatusInternalServerError)
		return
	}

	label := fmt.Sprintf("Restored from: %s", entry.Label)
	restored, err := a.history.AddHistory(r.Context(), entry.RoomID, label, entry.Code, entry.CodeHash, false)
	if err != nil {
		logrus.WithFields(logrus.Fields{"history_id": id, "error": err}).Error("failed to restore history entry")
		http.Error(w, "Failed to restore history entry", http.StatusInternalServerError)
		return
	}

	render.JSON(w, r, map[string]any{
		"message":       "History entry restored",
		"restored_from": entry.ID,
		"new_entry":     restored.ID,
		"room_id":       entry.RoomID,
		"code":          entry.Code,
	})
}
