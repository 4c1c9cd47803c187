package server

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GameState is the caller-facing result of a mutating game operation.
type GameState struct {
	Room *Room
}

// StartGame moves a waiting room to in-progress. Turn zero is seeded either
// by generating an image from the host's prompt or by recording the host's
// uploaded image; exactly one of the two must be provided. The room gate is
// held across the generation call, so concurrent starts serialize.
func (s *Server) StartGame(ctx context.Context, roomID uint, user *UserRecord, prompt string, initialImage []byte) (*GameState, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errNotFound("room not found")
	}
	gate := s.store.Gate(room.ID)
	gate.Lock()
	defer gate.Unlock()

	if room.HostUserID != user.ID {
		return nil, errForbidden("only the host can start the game")
	}
	if room.Status != statusWaiting {
		return nil, errInvalidState("game already started")
	}
	if countActive(room) == 0 {
		return nil, errInvalidState("room has no active participants")
	}

	hasPrompt := strings.TrimSpace(prompt) != ""
	hasImage := len(initialImage) > 0
	if !hasPrompt && !hasImage {
		return nil, errValidation("an opening prompt or an initial image is required")
	}
	if hasPrompt && hasImage {
		return nil, errValidation("provide either an opening prompt or an initial image, not both")
	}

	turnPrompt := initialTurnPrompt
	imageBytes := initialImage
	var processing time.Duration
	if hasPrompt {
		if err := validatePromptFormat(prompt); err != nil {
			return nil, err
		}
		result := s.checkPrompt(prompt, user.ID, room.ID)
		if result.Flagged {
			return nil, errModeration(result.Reason)
		}
		turnPrompt = result.CleanedPrompt
		started := time.Now()
		generated, err := s.images.Generate(ctx, result.CleanedPrompt)
		if err != nil {
			return nil, err
		}
		processing = time.Since(started)
		imageBytes = generated
	}

	imageKey := uuid.NewString()
	s.store.SaveImage(imageKey, imageBytes)

	var opening TurnRecord
	prevVersion := room.Version
	updated, err := s.store.UpdateRoom(room.ID, func(room *Room) error {
		host, found := findParticipantByUser(room, user.ID)
		if !found {
			return errInternal("host participant missing")
		}
		first := activeByTurnOrder(room)[0]
		opening = TurnRecord{
			Number:         0,
			ParticipantID:  host.ID,
			Prompt:         turnPrompt,
			OutputImageKey: imageKey,
			ProcessingMS:   processing.Milliseconds(),
			CreatedAt:      timeNowUTC(),
		}
		room.Turns = append(room.Turns, opening)
		room.Status = statusInProgress
		room.CurrentTurn = 1
		room.CurrentParticipantID = first.ID
		room.CurrentImageKey = imageKey
		room.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.persistTurnCommit(updated, &updated.Turns[len(updated.Turns)-1], imageBytes, prevVersion); err != nil {
		// The in-memory store is authoritative; a failed mirror never
		// unwinds a committed turn.
		s.logger.WithError(err).WithField("room_id", updated.ID).Warn("failed to mirror opening turn")
	}
	s.bumpStartStats(updated)

	s.logger.WithFields(logrus.Fields{
		"room_id":      updated.ID,
		"host_id":      user.ID,
		"current_turn": updated.CurrentTurn,
	}).Info("game started")
	s.publish(updated, eventGameStarted, map[string]any{
		"current_turn":           updated.CurrentTurn,
		"current_participant_id": updated.CurrentParticipantID,
		"image_key":              imageKey,
	})
	return &GameState{Room: updated}, nil
}

// ProcessTurn applies the current actor's prompt to the shared image and
// advances the turn. The gate is held across the edit call, so only one
// submission per room is ever in flight, and a failed image call leaves the
// room untouched with the same actor holding the turn.
func (s *Server) ProcessTurn(ctx context.Context, roomID uint, user *UserRecord, prompt string) (*GameState, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errNotFound("room not found")
	}
	gate := s.store.Gate(room.ID)
	gate.Lock()
	defer gate.Unlock()

	if room.Status != statusInProgress {
		return nil, errInvalidState("game is not in progress")
	}
	actor, found := findParticipantByUser(room, user.ID)
	if !found || !actor.Active {
		return nil, errForbidden("not a participant of this room")
	}
	if actor.ID != room.CurrentParticipantID {
		return nil, errForbidden("it is not your turn")
	}
	if err := validatePromptFormat(prompt); err != nil {
		return nil, err
	}
	result := s.checkPrompt(prompt, user.ID, room.ID)
	if result.Flagged {
		return nil, errModeration(result.Reason)
	}
	input, ok := s.store.GetImage(room.CurrentImageKey)
	if !ok {
		return nil, errInternal("current image is missing")
	}

	turnNumber := room.CurrentTurn
	s.publish(room, eventTurnProcessing, map[string]any{
		"turn":           turnNumber,
		"participant_id": actor.ID,
	})

	started := time.Now()
	output, err := s.images.Edit(ctx, input, result.CleanedPrompt)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"room_id": room.ID,
			"turn":    turnNumber,
			"cause":   errorCause(err),
		}).Warn("image edit failed, turn not consumed")
		s.publish(room, eventTurnError, map[string]any{
			"turn":           turnNumber,
			"participant_id": actor.ID,
			"cause":          errorCause(err),
			"message":        err.Error(),
		})
		return nil, err
	}
	processing := time.Since(started)

	outputKey := uuid.NewString()
	s.store.SaveImage(outputKey, output)

	completed := false
	prevVersion := room.Version
	updated, err := s.store.UpdateRoom(room.ID, func(room *Room) error {
		record := TurnRecord{
			Number:         room.CurrentTurn,
			ParticipantID:  actor.ID,
			Prompt:         result.CleanedPrompt,
			InputImageKey:  room.CurrentImageKey,
			OutputImageKey: outputKey,
			ProcessingMS:   processing.Milliseconds(),
			CreatedAt:      timeNowUTC(),
		}
		room.Turns = append(room.Turns, record)
		room.CurrentImageKey = outputKey

		next := room.CurrentTurn + 1
		if next > room.MaxTurns {
			now := timeNowUTC()
			room.Status = statusCompleted
			room.CurrentTurn = next
			room.CurrentParticipantID = 0
			room.EndedAt = &now
			completed = true
		} else {
			successor, ok := nextActor(room, actor.TurnOrder)
			if !ok {
				return errInternal("no active participants to advance to")
			}
			room.CurrentTurn = next
			room.CurrentParticipantID = successor.ID
		}
		room.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.persistTurnCommit(updated, &updated.Turns[len(updated.Turns)-1], output, prevVersion); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"room_id": updated.ID,
			"turn":    turnNumber,
		}).Warn("failed to mirror turn commit")
	}
	s.bumpTurnStats(user.ID)

	s.logger.WithFields(logrus.Fields{
		"room_id":       updated.ID,
		"turn":          turnNumber,
		"processing_ms": processing.Milliseconds(),
		"completed":     completed,
	}).Info("turn processed")
	s.publish(updated, eventTurnCompleted, map[string]any{
		"turn":           turnNumber,
		"participant_id": actor.ID,
		"image_key":      outputKey,
	})
	if completed {
		s.publish(updated, eventGameCompleted, map[string]any{
			"turns": len(updated.Turns) - 1,
		})
	}
	return &GameState{Room: updated}, nil
}

// EndGame completes a room early. Host only; legal from waiting or
// in-progress. No turn is recorded.
func (s *Server) EndGame(roomID uint, user *UserRecord) (*GameState, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errNotFound("room not found")
	}
	gate := s.store.Gate(room.ID)
	gate.Lock()
	defer gate.Unlock()

	updated, err := s.store.UpdateRoom(room.ID, func(room *Room) error {
		if room.HostUserID != user.ID {
			return errForbidden("only the host can end the game")
		}
		if room.Status != statusWaiting && room.Status != statusInProgress {
			return errInvalidState("game already ended")
		}
		now := timeNowUTC()
		room.Status = statusCompleted
		room.CurrentParticipantID = 0
		room.EndedAt = &now
		room.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.persistRoomUpdate(updated); err != nil {
		s.logger.WithError(err).WithField("room_id", updated.ID).Warn("failed to mirror game end")
	}
	s.logger.WithFields(logrus.Fields{"room_id": updated.ID}).Info("game ended by host")
	s.publish(updated, eventGameCompleted, map[string]any{
		"turns": len(updated.Turns),
	})
	return &GameState{Room: updated}, nil
}

// SkipTurn passes the turn to the next active participant without recording
// a turn or consuming the turn counter. Host-initiated override for stalled
// actors.
func (s *Server) SkipTurn(roomID uint, user *UserRecord) (*GameState, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errNotFound("room not found")
	}
	gate := s.store.Gate(room.ID)
	gate.Lock()
	defer gate.Unlock()

	var skipped, successor uint
	updated, err := s.store.UpdateRoom(room.ID, func(room *Room) error {
		if room.HostUserID != user.ID {
			return errForbidden("only the host can skip a turn")
		}
		if room.Status != statusInProgress {
			return errInvalidState("game is not in progress")
		}
		current, found := findParticipantByID(room, room.CurrentParticipantID)
		order := -1
		if found {
			skipped = current.ID
			order = current.TurnOrder
		}
		next, ok := nextActor(room, order)
		if !ok {
			return errInternal("no active participants to advance to")
		}
		room.CurrentParticipantID = next.ID
		successor = next.ID
		room.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.persistRoomUpdate(updated); err != nil {
		s.logger.WithError(err).WithField("room_id", updated.ID).Warn("failed to mirror turn skip")
	}
	s.logger.WithFields(logrus.Fields{
		"room_id": updated.ID,
		"skipped": skipped,
		"next":    successor,
	}).Info("turn skipped")
	s.publish(updated, eventTurnSkipped, map[string]any{
		"skipped_participant_id": skipped,
		"current_participant_id": successor,
	})
	return &GameState{Room: updated}, nil
}

// CancelGame cancels a room that has not completed, used when the host
// disconnects without ending the game.
func (s *Server) CancelGame(roomID uint) (*GameState, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errNotFound("room not found")
	}
	gate := s.store.Gate(room.ID)
	gate.Lock()
	defer gate.Unlock()

	updated, err := s.store.UpdateRoom(room.ID, func(room *Room) error {
		if room.Status != statusWaiting && room.Status != statusInProgress {
			return errInvalidState("game already ended")
		}
		now := timeNowUTC()
		room.Status = statusCancelled
		room.CurrentParticipantID = 0
		room.EndedAt = &now
		room.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.persistRoomUpdate(updated); err != nil {
		s.logger.WithError(err).WithField("room_id", updated.ID).Warn("failed to mirror game cancel")
	}
	s.logger.WithFields(logrus.Fields{"room_id": updated.ID}).Info("game cancelled")
	s.publish(updated, eventGameCancelled, nil)
	return &GameState{Room: updated}, nil
}
