package server

import "fmt"

// roomSnapshot renders the full client-facing view of a room. Image bytes
// are never inlined, clients follow the image URLs.
func roomSnapshot(room *Room) map[string]any {
	participants := make([]map[string]any, 0, len(room.Participants))
	for i := range room.Participants {
		p := &room.Participants[i]
		participants = append(participants, map[string]any{
			"id":         p.ID,
			"user_id":    p.UserID,
			"username":   p.Username,
			"turn_order": p.TurnOrder,
			"active":     p.Active,
			"is_host":    p.IsHost,
			"joined_at":  p.JoinedAt,
			"left_at":    p.LeftAt,
		})
	}
	turns := make([]map[string]any, 0, len(room.Turns))
	for i := range room.Turns {
		turns = append(turns, turnView(room.ID, &room.Turns[i]))
	}
	view := map[string]any{
		"id":                     room.ID,
		"join_code":              room.JoinCode,
		"name":                   room.Name,
		"status":                 room.Status,
		"host_user_id":           room.HostUserID,
		"max_players":            room.MaxPlayers,
		"max_turns":              room.MaxTurns,
		"current_turn":           room.CurrentTurn,
		"current_participant_id": room.CurrentParticipantID,
		"version":                room.Version,
		"created_at":             room.CreatedAt,
		"ended_at":               room.EndedAt,
		"participants":           participants,
		"turns":                  turns,
	}
	if room.CurrentImageKey != "" {
		view["current_image_key"] = room.CurrentImageKey
		view["current_image_url"] = imageURL(room.ID, room.CurrentImageKey)
	}
	return view
}

func turnView(roomID uint, turn *TurnRecord) map[string]any {
	view := map[string]any{
		"number":         turn.Number,
		"participant_id": turn.ParticipantID,
		"prompt":         turn.Prompt,
		"processing_ms":  turn.ProcessingMS,
		"created_at":     turn.CreatedAt,
	}
	if turn.InputImageKey != "" {
		view["input_image_url"] = imageURL(roomID, turn.InputImageKey)
	}
	if turn.OutputImageKey != "" {
		view["output_image_url"] = imageURL(roomID, turn.OutputImageKey)
	}
	return view
}

func imageURL(roomID uint, key string) string {
	return fmt.Sprintf("/api/rooms/%d/images/%s", roomID, key)
}
