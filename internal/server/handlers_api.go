package server

import (
	"net/http"

	"canvas-relay/internal/db"
)

type createRoomRequest struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"max_players"`
	MaxTurns   int    `json:"max_turns"`
}

type startGameRequest struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image"`
}

type submitTurnRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	summaries := s.store.ListRoomSummaries()
	rooms := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		rooms = append(rooms, map[string]any{
			"id":        summary.ID,
			"join_code": summary.JoinCode,
			"name":      summary.Name,
			"status":    summary.Status,
			"players":   summary.Players,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	var req createRoomRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	room, err := s.CreateRoom(user, req.Name, req.MaxPlayers, req.MaxTurns)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomSnapshot(room))
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	view := roomSnapshot(room)
	view["present"] = s.presence.List(room.ID)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err := s.JoinRoom(room.ID, user); err != nil {
		writeAPIError(w, err)
		return
	}
	current, _ := s.store.GetRoom(room.ID)
	writeJSON(w, http.StatusOK, roomSnapshot(current))
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err := s.LeaveRoom(room.ID, user); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"left": true})
}

func (s *Server) handleRoomSettings(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	var update RoomSettingsUpdate
	if err := readJSON(r.Body, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.UpdateRoomSettings(room.ID, user, update)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomSnapshot(updated))
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	var req startGameRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var image []byte
	if req.Image != "" {
		decoded, err := decodeImageData(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid image data")
			return
		}
		image = decoded
	}
	state, err := s.StartGame(r.Context(), room.ID, user, req.Prompt, image)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomSnapshot(state.Room))
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	var req submitTurnRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	state, err := s.ProcessTurn(r.Context(), room.ID, user, req.Prompt)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomSnapshot(state.Room))
}

func (s *Server) handleSkipTurn(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	state, err := s.SkipTurn(room.ID, user)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomSnapshot(state.Room))
}

func (s *Server) handleEndGame(w http.ResponseWriter, r *http.Request, user *UserRecord) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	state, err := s.EndGame(room.ID, user)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomSnapshot(state.Room))
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	turns := make([]map[string]any, 0, len(room.Turns))
	for i := range room.Turns {
		turns = append(turns, turnView(room.ID, &room.Turns[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

// handleListEvents serves the persisted event log. Without a database there
// is no history to page through; live events arrive over the WebSocket.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	var records []db.Event
	err := s.db.Where("room_id = ?", room.ID).Order("id ASC").Limit(200).Find(&records).Error
	if err != nil {
		s.logger.WithError(err).Error("failed to load events")
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	events := make([]map[string]any, 0, len(records))
	for _, record := range records {
		events = append(events, map[string]any{
			"id":         record.ID,
			"type":       record.Type,
			"payload":    record.Payload,
			"created_at": record.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	key := r.PathValue("key")
	data, found := s.store.GetImage(key)
	if !found && s.db != nil {
		var record db.Image
		if err := s.db.Where("key = ? AND room_id = ?", key, room.ID).First(&record).Error; err == nil {
			data = record.Data
			found = true
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	w.Header().Set("Content-Type", detectImageType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func detectImageType(data []byte) string {
	if len(data) > 4 && string(data[:4]) == "<svg" {
		return "image/svg+xml"
	}
	return http.DetectContentType(data)
}
