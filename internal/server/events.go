package server

import "github.com/sirupsen/logrus"

// publish fans an event out to the room's WebSocket subscribers and mirrors
// it to the event log. Both sides are best-effort; game state never depends
// on delivery, clients refetch the room when in doubt.
func (s *Server) publish(room *Room, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if s.ws != nil {
		s.ws.Broadcast(room.ID, map[string]any{
			"type":    eventType,
			"room_id": room.ID,
			"payload": payload,
		})
	}
	if err := s.persistEvent(room, eventType, payload); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"room_id": room.ID,
			"type":    eventType,
		}).Warn("failed to record event")
	}
}
