package server

import (
	"strings"

	"github.com/sirupsen/logrus"

	"canvas-relay/internal/db"
)

const joinCodeAttempts = 10

// newRoomCode draws join codes until one is free among non-terminal rooms,
// giving up after a fixed attempt budget.
func (s *Server) newRoomCode() (string, error) {
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code := s.codeGen()
		if s.store.CodeInUse(code) {
			continue
		}
		if s.db != nil {
			var count int64
			err := s.db.Model(&db.Room{}).
				Where("join_code = ? AND status IN ?", code, []string{statusWaiting, statusInProgress}).
				Count(&count).Error
			if err == nil && count > 0 {
				continue
			}
		}
		return code, nil
	}
	return "", errCodeGenerationExhausted
}

// CreateRoom creates a waiting room and enrolls the host at turn order zero.
func (s *Server) CreateRoom(host *UserRecord, name string, maxPlayers, maxTurns int) (*Room, error) {
	if maxPlayers == 0 {
		maxPlayers = s.cfg.DefaultMaxPlayers
	}
	if maxTurns == 0 {
		maxTurns = s.cfg.DefaultMaxTurns
	}
	if maxPlayers < minRoomPlayers || maxPlayers > maxRoomPlayers {
		return nil, errValidation("max players must be between 2 and 20")
	}
	if maxTurns < minRoomTurns || maxTurns > maxRoomTurns {
		return nil, errValidation("max turns must be between 1 and 50")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errValidation("room name is required")
	}
	if len(name) > 64 {
		return nil, errValidation("room name must be 64 characters or fewer")
	}

	code, err := s.newRoomCode()
	if err != nil {
		return nil, err
	}
	now := timeNowUTC()
	room := &Room{
		JoinCode:   code,
		Name:       name,
		Status:     statusWaiting,
		HostUserID: host.ID,
		MaxPlayers: maxPlayers,
		MaxTurns:   maxTurns,
		CreatedAt:  now,
		Participants: []Participant{{
			ID:        s.store.NextParticipantID(),
			UserID:    host.ID,
			Username:  host.Username,
			TurnOrder: 0,
			Active:    true,
			IsHost:    true,
			JoinedAt:  now,
		}},
	}
	s.store.AddRoom(room)
	if err := s.persistRoomCreate(room); err != nil {
		s.logger.WithError(err).WithField("join_code", room.JoinCode).Warn("failed to mirror room create")
	}
	s.logger.WithFields(logrus.Fields{
		"room_id":   room.ID,
		"join_code": room.JoinCode,
		"host_id":   host.ID,
	}).Info("room created")
	return room, nil
}

// JoinRoom adds a user to a waiting room, or reactivates their earlier
// participant row with its original turn order.
func (s *Server) JoinRoom(roomID uint, user *UserRecord) error {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return errNotFound("room not found")
	}
	gate := s.store.Gate(room.ID)
	gate.Lock()
	defer gate.Unlock()

	var joined *Participant
	_, err := s.store.UpdateRoom(room.ID, func(room *Room) error {
		if existing, found := findParticipantByUser(room, user.ID); found && existing.Active {
			return errInvalidState("already joined this room")
		}
		if room.Status != statusWaiting {
			return errInvalidState("room is not joinable")
		}
		if countActive(room) >= room.MaxPlayers {
			return errInvalidState("room is full")
		}
		if existing, found := findParticipantByUser(room, user.ID); found {
			existing.Active = true
			existing.LeftAt = nil
			joined = existing
			return nil
		}
		room.Participants = append(room.Participants, Participant{
			ID:        s.store.nextParticipantIDLocked(),
			UserID:    user.ID,
			Username:  user.Username,
			TurnOrder: maxTurnOrder(room) + 1,
			Active:    true,
			JoinedAt:  timeNowUTC(),
		})
		joined = &room.Participants[len(room.Participants)-1]
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.persistParticipant(room, joined); err != nil {
		s.logger.WithError(err).WithField("room_id", room.ID).Warn("failed to mirror join")
	}
	s.logger.WithFields(logrus.Fields{
		"room_id":    room.ID,
		"user_id":    user.ID,
		"turn_order": joined.TurnOrder,
	}).Info("player joined")
	s.publish(room, eventPlayerJoined, map[string]any{
		"participant_id": joined.ID,
		"username":       joined.Username,
		"turn_order":     joined.TurnOrder,
	})
	return nil
}

// LeaveRoom deactivates a participant. The host cannot leave; the host ends
// the game instead. If the leaver held the turn, the turn passes to the
// active participant with the lowest turn order.
func (s *Server) LeaveRoom(roomID uint, user *UserRecord) error {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return errNotFound("room not found")
	}
	gate := s.store.Gate(room.ID)
	gate.Lock()
	defer gate.Unlock()

	var left *Participant
	_, err := s.store.UpdateRoom(room.ID, func(room *Room) error {
		if room.HostUserID == user.ID {
			return errForbidden("the host cannot leave; end the game instead")
		}
		participant, found := findParticipantByUser(room, user.ID)
		if !found || !participant.Active {
			return errNotFound("not a participant of this room")
		}
		now := timeNowUTC()
		participant.Active = false
		participant.LeftAt = &now
		left = participant
		if room.Status == statusInProgress && room.CurrentParticipantID == participant.ID {
			active := activeByTurnOrder(room)
			if len(active) > 0 {
				room.CurrentParticipantID = active[0].ID
			}
		}
		room.Version++
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.persistLeave(room, left); err != nil {
		s.logger.WithError(err).WithField("room_id", room.ID).Warn("failed to mirror leave")
	}
	s.logger.WithFields(logrus.Fields{
		"room_id": room.ID,
		"user_id": user.ID,
	}).Info("player left")
	s.publish(room, eventPlayerLeft, map[string]any{
		"participant_id": left.ID,
		"username":       left.Username,
	})
	return nil
}

// UpdateRoomSettings mutates the post-creation-mutable room fields: name,
// max players, max turns. Host only, lobby only.
func (s *Server) UpdateRoomSettings(roomID uint, user *UserRecord, update RoomSettingsUpdate) (*Room, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errNotFound("room not found")
	}
	gate := s.store.Gate(room.ID)
	gate.Lock()
	defer gate.Unlock()

	updated, err := s.store.UpdateRoom(room.ID, func(room *Room) error {
		if room.HostUserID != user.ID {
			return errForbidden("only the host can update settings")
		}
		if room.Status != statusWaiting {
			return errInvalidState("settings can only change before the game starts")
		}
		if update.Name != nil {
			name := strings.TrimSpace(*update.Name)
			if name == "" || len(name) > 64 {
				return errValidation("room name must be between 1 and 64 characters")
			}
			room.Name = name
		}
		if update.MaxPlayers != nil {
			if *update.MaxPlayers < minRoomPlayers || *update.MaxPlayers > maxRoomPlayers {
				return errValidation("max players must be between 2 and 20")
			}
			if *update.MaxPlayers < countActive(room) {
				return errValidation("max players is below current player count")
			}
			room.MaxPlayers = *update.MaxPlayers
		}
		if update.MaxTurns != nil {
			if *update.MaxTurns < minRoomTurns || *update.MaxTurns > maxRoomTurns {
				return errValidation("max turns must be between 1 and 50")
			}
			room.MaxTurns = *update.MaxTurns
		}
		room.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.persistRoomUpdate(updated); err != nil {
		s.logger.WithError(err).WithField("room_id", updated.ID).Warn("failed to mirror settings update")
	}
	s.publish(updated, eventSettingsUpdated, map[string]any{
		"name":        updated.Name,
		"max_players": updated.MaxPlayers,
		"max_turns":   updated.MaxTurns,
	})
	return updated, nil
}
