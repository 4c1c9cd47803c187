package server

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"canvas-relay/internal/db"
)

func (s *Server) persistUser(user *UserRecord) error {
	if s.db == nil {
		return nil
	}
	record := db.User{
		PublicID:     user.PublicID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return err
	}
	s.store.UpdateUserID(user, record.ID)
	return nil
}

func (s *Server) persistRoomCreate(room *Room) error {
	if s.db == nil {
		return nil
	}
	record := db.Room{
		JoinCode:   room.JoinCode,
		Name:       room.Name,
		Status:     room.Status,
		HostUserID: room.HostUserID,
		MaxPlayers: room.MaxPlayers,
		MaxTurns:   room.MaxTurns,
		Version:    room.Version,
		CreatedAt:  room.CreatedAt,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// A unique hit here means the partial join-code index caught a
		// race among open rooms; the transaction aborts rather than
		// attaching participants to a room row that was never written.
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		host := &room.Participants[0]
		row := db.Participant{
			RoomID:    record.ID,
			UserID:    host.UserID,
			TurnOrder: host.TurnOrder,
			Active:    host.Active,
			JoinedAt:  host.JoinedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		host.DBID = row.ID
		return nil
	})
	if err != nil {
		return err
	}
	s.store.UpdateRoomID(room, record.ID)
	return nil
}

func (s *Server) persistParticipant(room *Room, participant *Participant) error {
	if s.db == nil {
		return nil
	}
	if participant.DBID != 0 {
		// Reactivated row: clear the departure marker.
		return s.db.Model(&db.Participant{}).
			Where("id = ?", participant.DBID).
			Updates(map[string]any{"active": true, "left_at": nil}).Error
	}
	record := db.Participant{
		RoomID:    room.ID,
		UserID:    participant.UserID,
		TurnOrder: participant.TurnOrder,
		Active:    participant.Active,
		JoinedAt:  participant.JoinedAt,
	}
	if err := s.db.Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			var existing db.Participant
			lookupErr := s.db.Where("room_id = ? AND user_id = ?", room.ID, participant.UserID).
				First(&existing).Error
			if lookupErr == nil && existing.ID != 0 {
				participant.DBID = existing.ID
				return s.db.Model(&db.Participant{}).
					Where("id = ?", existing.ID).
					Updates(map[string]any{"active": true, "left_at": nil}).Error
			}
		}
		return err
	}
	participant.DBID = record.ID
	return nil
}

func (s *Server) persistLeave(room *Room, participant *Participant) error {
	if s.db == nil {
		return nil
	}
	if participant.DBID != 0 {
		err := s.db.Model(&db.Participant{}).
			Where("id = ?", participant.DBID).
			Updates(map[string]any{"active": false, "left_at": participant.LeftAt}).Error
		if err != nil {
			return err
		}
	}
	return s.persistRoomUpdate(room)
}

// persistRoomUpdate mirrors the room row with an optimistic version check.
// A row modified out from under us means another writer slipped past the
// room gate, which callers surface as a conflict.
func (s *Server) persistRoomUpdate(room *Room) error {
	if s.db == nil {
		return nil
	}
	updates := map[string]any{
		"name":                   room.Name,
		"status":                 room.Status,
		"max_players":            room.MaxPlayers,
		"max_turns":              room.MaxTurns,
		"current_turn":           room.CurrentTurn,
		"current_participant_id": s.currentParticipantDBID(room),
		"current_image_key":      room.CurrentImageKey,
		"version":                room.Version,
		"ended_at":               room.EndedAt,
	}
	result := s.db.Model(&db.Room{}).
		Where("id = ? AND version < ?", room.ID, room.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errConflict("room was modified concurrently")
	}
	return nil
}

// persistTurnCommit writes the image blob, the turn row, and the room
// advance in one transaction so a crash never records a turn without its
// output image or vice versa.
func (s *Server) persistTurnCommit(room *Room, turn *TurnRecord, imageData []byte, prevVersion int) error {
	if s.db == nil {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		image := db.Image{
			Key:    turn.OutputImageKey,
			RoomID: room.ID,
			Data:   imageData,
		}
		if err := tx.Create(&image).Error; err != nil {
			return err
		}
		var participantDBID *uint
		if actor, found := findParticipantByID(room, turn.ParticipantID); found && actor.DBID != 0 {
			id := actor.DBID
			participantDBID = &id
		}
		row := db.Turn{
			RoomID:         room.ID,
			Number:         turn.Number,
			ParticipantID:  participantDBID,
			Prompt:         turn.Prompt,
			InputImageKey:  turn.InputImageKey,
			OutputImageKey: turn.OutputImageKey,
			ProcessingMS:   turn.ProcessingMS,
			CreatedAt:      turn.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		turn.DBID = row.ID
		result := tx.Model(&db.Room{}).
			Where("id = ? AND version = ?", room.ID, prevVersion).
			Updates(map[string]any{
				"status":                 room.Status,
				"current_turn":           room.CurrentTurn,
				"current_participant_id": s.currentParticipantDBID(room),
				"current_image_key":      room.CurrentImageKey,
				"version":                room.Version,
				"ended_at":               room.EndedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errConflict("room was modified concurrently")
		}
		return nil
	})
}

func (s *Server) persistEvent(room *Room, eventType string, payload map[string]any) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := db.Event{
		RoomID:  room.ID,
		Type:    eventType,
		Payload: datatypes.JSON(data),
	}
	if id, ok := payload["participant_id"].(uint); ok {
		if actor, found := findParticipantByID(room, id); found && actor.DBID != 0 {
			value := actor.DBID
			event.ParticipantID = &value
		}
	}
	return s.db.Create(&event).Error
}

// auditModeration records every screened prompt, flagged or not. Callers
// treat failures as best-effort.
func (s *Server) auditModeration(prompt string, result ModerationResult, userID, roomID uint) error {
	if s.db == nil {
		return nil
	}
	record := db.ModerationLog{
		Prompt:  prompt,
		Flagged: result.Flagged,
		Reason:  result.Reason,
	}
	if userID != 0 {
		record.UserID = &userID
	}
	if roomID != 0 {
		record.RoomID = &roomID
	}
	return s.db.Create(&record).Error
}

func (s *Server) bumpStartStats(room *Room) {
	for i := range room.Participants {
		participant := room.Participants[i]
		if !participant.Active {
			continue
		}
		s.store.UpdateUser(participant.UserID, func(user *UserRecord) {
			user.GamesPlayed++
			if participant.IsHost {
				user.GamesHosted++
			}
		})
		if s.db == nil {
			continue
		}
		updates := map[string]any{"games_played": gorm.Expr("games_played + 1")}
		if participant.IsHost {
			updates["games_hosted"] = gorm.Expr("games_hosted + 1")
		}
		err := s.db.Model(&db.User{}).Where("id = ?", participant.UserID).Updates(updates).Error
		if err != nil {
			s.logger.WithError(err).Warn("failed to update player stats")
		}
	}
}

func (s *Server) bumpTurnStats(userID uint) {
	s.store.UpdateUser(userID, func(user *UserRecord) {
		user.TurnsTaken++
	})
	if s.db == nil {
		return
	}
	err := s.db.Model(&db.User{}).Where("id = ?", userID).
		Update("turns_taken", gorm.Expr("turns_taken + 1")).Error
	if err != nil {
		s.logger.WithError(err).Warn("failed to update player stats")
	}
}

func (s *Server) currentParticipantDBID(room *Room) *uint {
	if room.CurrentParticipantID == 0 {
		return nil
	}
	actor, found := findParticipantByID(room, room.CurrentParticipantID)
	if !found || actor.DBID == 0 {
		return nil
	}
	id := actor.DBID
	return &id
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
