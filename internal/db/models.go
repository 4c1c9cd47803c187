package db

import (
	"time"

	"gorm.io/datatypes"
)

type User struct {
	ID           uint      `gorm:"primaryKey"`
	PublicID     string    `gorm:"size:36;uniqueIndex;not null"`
	Username     string    `gorm:"size:64;uniqueIndex;not null"`
	PasswordHash string    `gorm:"size:256;not null"`
	GamesHosted  int       `gorm:"not null;default:0"`
	GamesPlayed  int       `gorm:"not null;default:0"`
	TurnsTaken   int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type Room struct {
	ID                   uint   `gorm:"primaryKey"`
	JoinCode             string `gorm:"size:6;index;not null"`
	Name                 string `gorm:"size:64;not null"`
	Status               string `gorm:"size:16;not null"`
	HostUserID           uint   `gorm:"index;not null"`
	MaxPlayers           int    `gorm:"not null"`
	MaxTurns             int    `gorm:"not null"`
	CurrentTurn          int    `gorm:"not null;default:0"`
	CurrentParticipantID *uint  `gorm:"index"`
	CurrentImageKey      string `gorm:"size:36"`
	Version              int    `gorm:"not null;default:0"`
	EndedAt              *time.Time
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
	Participants         []Participant
	Turns                []Turn
	Events               []Event
}

type Participant struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    uint      `gorm:"index;not null;uniqueIndex:idx_participants_room_user"`
	UserID    uint      `gorm:"index;not null;uniqueIndex:idx_participants_room_user"`
	TurnOrder int       `gorm:"not null"`
	Active    bool      `gorm:"not null;default:true"`
	JoinedAt  time.Time `gorm:"not null"`
	LeftAt    *time.Time
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type Turn struct {
	ID             uint      `gorm:"primaryKey"`
	RoomID         uint      `gorm:"index;not null;uniqueIndex:idx_turns_room_number"`
	Number         int       `gorm:"not null;uniqueIndex:idx_turns_room_number"`
	ParticipantID  *uint     `gorm:"index"`
	Prompt         string    `gorm:"size:500;not null"`
	InputImageKey  string    `gorm:"size:36"`
	OutputImageKey string    `gorm:"size:36;not null"`
	ProcessingMS   int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
}

type Image struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"size:36;uniqueIndex;not null"`
	RoomID    uint      `gorm:"index;not null"`
	Data      []byte    `gorm:"type:bytea;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type Event struct {
	ID            uint           `gorm:"primaryKey"`
	RoomID        uint           `gorm:"index;not null"`
	ParticipantID *uint          `gorm:"index"`
	Type          string         `gorm:"size:64;not null"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
}

type ModerationLog struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    *uint     `gorm:"index"`
	RoomID    *uint     `gorm:"index"`
	Prompt    string    `gorm:"size:500;not null"`
	Flagged   bool      `gorm:"not null"`
	Reason    string    `gorm:"size:128"`
	CreatedAt time.Time `gorm:"not null"`
}
