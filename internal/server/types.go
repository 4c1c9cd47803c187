package server

import "time"

const (
	statusWaiting    = "waiting"
	statusInProgress = "in_progress"
	statusCompleted  = "completed"
	statusCancelled  = "cancelled"
)

const (
	eventGameStarted     = "game-started"
	eventTurnProcessing  = "turn-processing"
	eventTurnCompleted   = "turn-completed"
	eventTurnSkipped     = "turn-skipped"
	eventTurnError       = "turn-error"
	eventGameCompleted   = "game-completed"
	eventGameCancelled   = "game-cancelled"
	eventPlayerJoined    = "player-joined"
	eventPlayerLeft      = "player-left"
	eventSettingsUpdated = "settings-updated"
)

const (
	minRoomPlayers = 2
	maxRoomPlayers = 20
	minRoomTurns   = 1
	maxRoomTurns   = 50
)

// initialTurnPrompt labels turn zero when the host seeds the game with an
// uploaded image instead of a generation prompt.
const initialTurnPrompt = "Initial uploaded image"

type RoomSummary struct {
	ID       uint
	JoinCode string
	Name     string
	Status   string
	Players  int
}

// Room is the authoritative in-memory record of one game session. All
// mutations go through Store.UpdateRoom under the room's gate.
type Room struct {
	ID                   uint
	JoinCode             string
	Name                 string
	Status               string
	HostUserID           uint
	MaxPlayers           int
	MaxTurns             int
	CurrentTurn          int
	CurrentParticipantID uint
	CurrentImageKey      string
	Version              int
	CreatedAt            time.Time
	EndedAt              *time.Time
	Participants         []Participant
	Turns                []TurnRecord
}

type Participant struct {
	ID        uint
	UserID    uint
	Username  string
	TurnOrder int
	Active    bool
	IsHost    bool
	JoinedAt  time.Time
	LeftAt    *time.Time
	DBID      uint
}

// TurnRecord is one completed move. Turn numbers are contiguous from zero;
// each turn's output image becomes the next turn's input.
type TurnRecord struct {
	Number         int
	ParticipantID  uint
	Prompt         string
	InputImageKey  string
	OutputImageKey string
	ProcessingMS   int64
	CreatedAt      time.Time
	DBID           uint
}

// UserRecord mirrors a row of the users table so the server can run without
// a database attached.
type UserRecord struct {
	ID           uint
	PublicID     string
	Username     string
	PasswordHash string
	GamesHosted  int
	GamesPlayed  int
	TurnsTaken   int
	CreatedAt    time.Time
}

// RoomSettingsUpdate enumerates exactly which room fields are mutable after
// creation. Requests carrying any other field are rejected at decode time.
type RoomSettingsUpdate struct {
	Name       *string `json:"name"`
	MaxPlayers *int    `json:"max_players"`
	MaxTurns   *int    `json:"max_turns"`
}
