package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roomWithOrders(orders ...int) *Room {
	room := &Room{Status: statusWaiting}
	for i, order := range orders {
		room.Participants = append(room.Participants, Participant{
			ID:        uint(i + 1),
			UserID:    uint(i + 1),
			TurnOrder: order,
			Active:    true,
		})
	}
	return room
}

func TestNextActorWrapsAround(t *testing.T) {
	room := roomWithOrders(0, 1, 2)

	next, ok := nextActor(room, 1)
	require.True(t, ok)
	assert.Equal(t, 2, next.TurnOrder)

	next, ok = nextActor(room, 2)
	require.True(t, ok)
	assert.Equal(t, 0, next.TurnOrder, "highest order wraps to lowest")
}

func TestNextActorSkipsInactive(t *testing.T) {
	room := roomWithOrders(0, 1, 2)
	room.Participants[1].Active = false

	next, ok := nextActor(room, 0)
	require.True(t, ok)
	assert.Equal(t, 2, next.TurnOrder)

	room.Participants[0].Active = false
	room.Participants[2].Active = false
	_, ok = nextActor(room, 0)
	assert.False(t, ok)
}

func TestActiveByTurnOrderSortsAndFilters(t *testing.T) {
	room := roomWithOrders(3, 0, 2)
	room.Participants[2].Active = false

	active := activeByTurnOrder(room)
	require.Len(t, active, 2)
	assert.Equal(t, 0, active[0].TurnOrder)
	assert.Equal(t, 3, active[1].TurnOrder)
}

func TestMaxTurnOrder(t *testing.T) {
	assert.Equal(t, -1, maxTurnOrder(&Room{}))
	room := roomWithOrders(0, 4, 2)
	room.Participants[1].Active = false
	// Departed players still hold their order so rejoin keeps it unique.
	assert.Equal(t, 4, maxTurnOrder(room))
}

func TestCodeInUseIgnoresTerminalRooms(t *testing.T) {
	store := NewStore()
	store.AddRoom(&Room{JoinCode: "AAAA22", Status: statusCompleted})
	store.AddRoom(&Room{JoinCode: "BBBB33", Status: statusCancelled})
	store.AddRoom(&Room{JoinCode: "CCCC44", Status: statusWaiting})
	store.AddRoom(&Room{JoinCode: "DDDD55", Status: statusInProgress})

	assert.False(t, store.CodeInUse("AAAA22"))
	assert.False(t, store.CodeInUse("BBBB33"))
	assert.True(t, store.CodeInUse("CCCC44"))
	assert.True(t, store.CodeInUse("DDDD55"))
}

func TestUpdateRoomUnknownID(t *testing.T) {
	store := NewStore()
	_, err := store.UpdateRoom(99, func(room *Room) error { return nil })
	require.Error(t, err)
	assert.Equal(t, kindNotFound, errorKind(err))
}

func TestUpdateUserMutatesInPlace(t *testing.T) {
	store := NewStore()
	user := &UserRecord{PublicID: "pub-1", Username: "ada"}
	require.True(t, store.AddUser(user))

	store.UpdateUser(user.ID, func(u *UserRecord) { u.TurnsTaken++ })
	got, ok := store.GetUser(user.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.TurnsTaken)
}

func TestAddUserRejectsDuplicateName(t *testing.T) {
	store := NewStore()
	require.True(t, store.AddUser(&UserRecord{PublicID: "pub-1", Username: "ada"}))
	assert.False(t, store.AddUser(&UserRecord{PublicID: "pub-2", Username: "ada"}))
}

func TestUpdateRoomIDRekeys(t *testing.T) {
	store := NewStore()
	room := &Room{JoinCode: "EEEE66", Status: statusWaiting}
	store.AddRoom(room)
	oldID := room.ID

	store.UpdateRoomID(room, 500)
	_, ok := store.GetRoom(oldID)
	assert.False(t, ok)
	got, ok := store.GetRoom(500)
	require.True(t, ok)
	assert.Equal(t, room, got)
}
