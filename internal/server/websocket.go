package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type wsHub struct {
	mu     sync.Mutex
	groups map[uint]map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{
		groups: make(map[uint]map[*websocket.Conn]struct{}),
	}
}

func (h *wsHub) Add(roomID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[roomID]
	if group == nil {
		group = make(map[*websocket.Conn]struct{})
		h.groups[roomID] = group
	}
	group[conn] = struct{}{}
}

func (h *wsHub) Remove(roomID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[roomID]
	if group == nil {
		return
	}
	delete(group, conn)
	_ = conn.Close()
	if len(group) == 0 {
		delete(h.groups, roomID)
	}
}

func (h *wsHub) Send(conn *websocket.Conn, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (h *wsHub) Broadcast(roomID uint, payload any) {
	h.mu.Lock()
	group := h.groups[roomID]
	conns := make([]*websocket.Conn, 0, len(group))
	for conn := range group {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.Remove(roomID, conn)
		}
	}
}

// handleRoomWS upgrades a room connection. Authentication comes from the
// session cookie or a token query parameter since browsers cannot set
// headers on WebSocket upgrades.
func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	room, ok := s.resolveRoom(r.PathValue("room"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	user, err := s.userFromRequest(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"room_id": room.ID,
		"user_id": user.ID,
		"remote":  r.RemoteAddr,
	}).Info("ws connected")
	s.ws.Add(room.ID, conn)
	s.presence.Join(room.ID, user.PublicID)
	if current, ok := s.store.GetRoom(room.ID); ok {
		s.ws.Send(conn, map[string]any{
			"type":    "room-snapshot",
			"room_id": current.ID,
			"payload": roomSnapshot(current),
		})
	}
	go s.readWS(room.ID, conn, user)
}

func (s *Server) readWS(roomID uint, conn *websocket.Conn, user *UserRecord) {
	defer func() {
		s.ws.Remove(roomID, conn)
		s.presence.Leave(roomID, user.PublicID)
		s.hostDisconnected(roomID, user)
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"room_id": roomID,
				"user_id": user.ID,
			}).Info("ws disconnected")
			return
		}
	}
}

// hostDisconnected cancels a lobby whose host walked away. An in-progress
// game keeps running; the host can reconnect and end it explicitly.
func (s *Server) hostDisconnected(roomID uint, user *UserRecord) {
	room, ok := s.store.GetRoom(roomID)
	if !ok || room.HostUserID != user.ID || room.Status != statusWaiting {
		return
	}
	if _, err := s.CancelGame(roomID); err != nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"room_id": roomID,
		"reason":  "host_disconnected",
	}).Info("game cancelled")
}
