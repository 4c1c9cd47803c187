package server

import (
	"sort"
	"sync"
	"time"
)

// Store holds the authoritative in-memory state: rooms, users, and image
// blobs. Persistence mirrors this state to Postgres when a database is
// attached; the server runs fully without one.
type Store struct {
	mu                sync.Mutex
	nextRoomID        uint
	nextParticipantID uint
	nextUserID        uint
	rooms             map[uint]*Room
	users             map[uint]*UserRecord
	usersByName       map[string]uint
	usersByPublicID   map[string]uint
	images            map[string][]byte

	gatesMu sync.Mutex
	gates   map[uint]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		nextRoomID:        1,
		nextParticipantID: 1,
		nextUserID:        1,
		rooms:             make(map[uint]*Room),
		users:             make(map[uint]*UserRecord),
		usersByName:       make(map[string]uint),
		usersByPublicID:   make(map[string]uint),
		images:            make(map[string][]byte),
		gates:             make(map[uint]*sync.Mutex),
	}
}

// Gate returns the per-room mutex serializing every mutating operation on
// that room, held for the full duration of the operation including the
// external image call.
func (s *Store) Gate(roomID uint) *sync.Mutex {
	s.gatesMu.Lock()
	defer s.gatesMu.Unlock()
	gate, ok := s.gates[roomID]
	if !ok {
		gate = &sync.Mutex{}
		s.gates[roomID] = gate
	}
	return gate
}

func (s *Store) AddRoom(room *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == 0 {
		room.ID = s.nextRoomID
		s.nextRoomID++
	} else if room.ID >= s.nextRoomID {
		s.nextRoomID = room.ID + 1
	}
	s.rooms[room.ID] = room
}

func (s *Store) GetRoom(id uint) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	return room, ok
}

func (s *Store) FindRoomByCode(code string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if room.JoinCode == code {
			return room, true
		}
	}
	return nil, false
}

// CodeInUse reports whether a join code is held by any non-terminal room.
func (s *Store) CodeInUse(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if room.JoinCode != code {
			continue
		}
		if room.Status == statusWaiting || room.Status == statusInProgress {
			return true
		}
	}
	return false
}

// UpdateRoom applies update to the room under the store lock. The caller is
// expected to already hold the room's gate.
func (s *Store) UpdateRoom(id uint, update func(room *Room) error) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, errNotFound("room not found")
	}
	if err := update(room); err != nil {
		return nil, err
	}
	return room, nil
}

// UpdateRoomID rekeys a room after persistence assigns its database id.
func (s *Store) UpdateRoomID(room *Room, newID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == newID {
		return
	}
	delete(s.rooms, room.ID)
	room.ID = newID
	s.rooms[newID] = room
	if newID >= s.nextRoomID {
		s.nextRoomID = newID + 1
	}
}

func (s *Store) NextParticipantID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextParticipantIDLocked()
}

// nextParticipantIDLocked draws the next participant id. Callers must hold
// s.mu.
func (s *Store) nextParticipantIDLocked() uint {
	id := s.nextParticipantID
	s.nextParticipantID++
	return id
}

func (s *Store) ListRoomSummaries() []RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]RoomSummary, 0, len(s.rooms))
	for _, room := range s.rooms {
		list = append(list, RoomSummary{
			ID:       room.ID,
			JoinCode: room.JoinCode,
			Name:     room.Name,
			Status:   room.Status,
			Players:  countActive(room),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func (s *Store) AddUser(user *UserRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usersByName[user.Username]; taken {
		return false
	}
	if user.ID == 0 {
		user.ID = s.nextUserID
		s.nextUserID++
	} else if user.ID >= s.nextUserID {
		s.nextUserID = user.ID + 1
	}
	s.users[user.ID] = user
	s.usersByName[user.Username] = user.ID
	s.usersByPublicID[user.PublicID] = user.ID
	return true
}

func (s *Store) GetUser(id uint) (*UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	return user, ok
}

func (s *Store) FindUserByName(username string) (*UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByName[username]
	if !ok {
		return nil, false
	}
	return s.users[id], true
}

func (s *Store) FindUserByPublicID(publicID string) (*UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByPublicID[publicID]
	if !ok {
		return nil, false
	}
	return s.users[id], true
}

func (s *Store) UpdateUser(id uint, update func(user *UserRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		update(user)
	}
}

// UpdateUserID rekeys a user after persistence assigns its database id.
func (s *Store) UpdateUserID(user *UserRecord, newID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == newID {
		return
	}
	delete(s.users, user.ID)
	user.ID = newID
	s.users[newID] = user
	s.usersByName[user.Username] = newID
	s.usersByPublicID[user.PublicID] = newID
	if newID >= s.nextUserID {
		s.nextUserID = newID + 1
	}
}

func (s *Store) SaveImage(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[key] = data
}

func (s *Store) GetImage(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.images[key]
	return data, ok
}

// findParticipantByUser returns the participant row for a user, active or
// not. Callers must hold the room's gate or the store lock.
func findParticipantByUser(room *Room, userID uint) (*Participant, bool) {
	for i := range room.Participants {
		if room.Participants[i].UserID == userID {
			return &room.Participants[i], true
		}
	}
	return nil, false
}

func findParticipantByID(room *Room, participantID uint) (*Participant, bool) {
	for i := range room.Participants {
		if room.Participants[i].ID == participantID {
			return &room.Participants[i], true
		}
	}
	return nil, false
}

func countActive(room *Room) int {
	count := 0
	for i := range room.Participants {
		if room.Participants[i].Active {
			count++
		}
	}
	return count
}

// activeByTurnOrder returns the active participants sorted by turn order.
// Turn-order gaps left by departed players are skipped naturally.
func activeByTurnOrder(room *Room) []*Participant {
	active := make([]*Participant, 0, len(room.Participants))
	for i := range room.Participants {
		if room.Participants[i].Active {
			active = append(active, &room.Participants[i])
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].TurnOrder < active[j].TurnOrder
	})
	return active
}

// nextActor picks the active participant immediately following the given
// turn order, wrapping to the lowest.
func nextActor(room *Room, afterTurnOrder int) (*Participant, bool) {
	active := activeByTurnOrder(room)
	if len(active) == 0 {
		return nil, false
	}
	for _, participant := range active {
		if participant.TurnOrder > afterTurnOrder {
			return participant, true
		}
	}
	return active[0], true
}

func maxTurnOrder(room *Room) int {
	max := -1
	for i := range room.Participants {
		if room.Participants[i].TurnOrder > max {
			max = room.Participants[i].TurnOrder
		}
	}
	return max
}

func timeNowUTC() time.Time {
	return time.Now().UTC()
}
