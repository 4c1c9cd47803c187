package server

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"canvas-relay/internal/config"
)

func newGameServer(t *testing.T) *Server {
	t.Helper()
	return New(nil, config.Default(), nil)
}

type downConnector struct{}

func (downConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("connection refused")
}

func (downConnector) Driver() driver.Driver { return nil }

// unreachableDB builds a gorm handle whose every connection attempt fails,
// standing in for a Postgres outage.
func unreachableDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sql.OpenDB(downConnector{}),
	}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Discard,
	})
	require.NoError(t, err)
	return conn
}

func addTestUser(t *testing.T, s *Server, name string) *UserRecord {
	t.Helper()
	user := &UserRecord{
		PublicID:  "pub-" + name,
		Username:  name,
		CreatedAt: timeNowUTC(),
	}
	require.True(t, s.store.AddUser(user))
	return user
}

// startedGame builds a two-player in-progress room and returns it with the
// host and guest.
func startedGame(t *testing.T, s *Server, maxTurns int) (*Room, *UserRecord, *UserRecord) {
	t.Helper()
	host := addTestUser(t, s, fmt.Sprintf("host-%d", s.store.nextUserID))
	guest := addTestUser(t, s, fmt.Sprintf("guest-%d", s.store.nextUserID))
	room, err := s.CreateRoom(host, "flow", 4, maxTurns)
	require.NoError(t, err)
	require.NoError(t, s.JoinRoom(room.ID, guest))
	state, err := s.StartGame(context.Background(), room.ID, host, "a quiet meadow", nil)
	require.NoError(t, err)
	return state.Room, host, guest
}

func TestStartGameHostOnly(t *testing.T) {
	s := newGameServer(t)
	host := addTestUser(t, s, "host")
	guest := addTestUser(t, s, "guest")
	room, err := s.CreateRoom(host, "room", 4, 3)
	require.NoError(t, err)
	require.NoError(t, s.JoinRoom(room.ID, guest))

	_, err = s.StartGame(context.Background(), room.ID, guest, "a meadow", nil)
	require.Error(t, err)
	assert.Equal(t, kindForbidden, errorKind(err))
}

func TestStartGameRequiresExactlyOneSeed(t *testing.T) {
	s := newGameServer(t)
	host := addTestUser(t, s, "host")
	room, err := s.CreateRoom(host, "room", 4, 3)
	require.NoError(t, err)

	_, err = s.StartGame(context.Background(), room.ID, host, "", nil)
	require.Error(t, err)
	assert.Equal(t, kindValidation, errorKind(err))

	_, err = s.StartGame(context.Background(), room.ID, host, "a meadow", []byte("img"))
	require.Error(t, err)
	assert.Equal(t, kindValidation, errorKind(err))
}

func TestStartGameWithPrompt(t *testing.T) {
	s := newGameServer(t)
	room, _, _ := startedGame(t, s, 3)

	assert.Equal(t, statusInProgress, room.Status)
	assert.Equal(t, 1, room.CurrentTurn)
	require.Len(t, room.Turns, 1)
	assert.Equal(t, 0, room.Turns[0].Number)
	assert.Equal(t, "a quiet meadow", room.Turns[0].Prompt)
	assert.NotEmpty(t, room.CurrentImageKey)

	// Turn one belongs to the lowest active turn order, the host.
	actor, found := findParticipantByID(room, room.CurrentParticipantID)
	require.True(t, found)
	assert.Equal(t, 0, actor.TurnOrder)

	image, ok := s.store.GetImage(room.CurrentImageKey)
	require.True(t, ok)
	assert.NotEmpty(t, image)
}

func TestStartGameWithInitialImage(t *testing.T) {
	s := newGameServer(t)
	host := addTestUser(t, s, "host")
	room, err := s.CreateRoom(host, "room", 4, 3)
	require.NoError(t, err)

	seed := []byte("uploaded-image-bytes")
	state, err := s.StartGame(context.Background(), room.ID, host, "", seed)
	require.NoError(t, err)
	require.Len(t, state.Room.Turns, 1)
	assert.Equal(t, initialTurnPrompt, state.Room.Turns[0].Prompt)

	stored, ok := s.store.GetImage(state.Room.CurrentImageKey)
	require.True(t, ok)
	assert.Equal(t, seed, stored)
}

func TestStartGameTwiceFails(t *testing.T) {
	s := newGameServer(t)
	room, host, _ := startedGame(t, s, 3)

	_, err := s.StartGame(context.Background(), room.ID, host, "again", nil)
	require.Error(t, err)
	assert.Equal(t, kindInvalidState, errorKind(err))
}

func TestStartGameModerationRejected(t *testing.T) {
	s := newGameServer(t)
	host := addTestUser(t, s, "host")
	room, err := s.CreateRoom(host, "room", 4, 3)
	require.NoError(t, err)

	_, err = s.StartGame(context.Background(), room.ID, host, "kill the lights", nil)
	require.Error(t, err)
	assert.Equal(t, kindModeration, errorKind(err))
	assert.Equal(t, statusWaiting, room.Status)
}

func TestProcessTurnRotationAndCompletion(t *testing.T) {
	s := newGameServer(t)
	room, host, guest := startedGame(t, s, 3)

	actors := []*UserRecord{host, guest, host}
	var previousImage string
	for i, actor := range actors {
		previousImage = room.CurrentImageKey
		state, err := s.ProcessTurn(context.Background(), room.ID, actor, fmt.Sprintf("change number %d", i+1))
		require.NoError(t, err, "turn %d", i+1)
		room = state.Room

		turn := room.Turns[len(room.Turns)-1]
		assert.Equal(t, i+1, turn.Number)
		assert.Equal(t, previousImage, turn.InputImageKey, "input is the prior output")
		assert.NotEqual(t, previousImage, turn.OutputImageKey)
		assert.Equal(t, turn.OutputImageKey, room.CurrentImageKey)
	}

	assert.Equal(t, statusCompleted, room.Status)
	assert.Equal(t, uint(0), room.CurrentParticipantID)
	require.NotNil(t, room.EndedAt)
	assert.Equal(t, 4, room.CurrentTurn, "counter passes max turns on completion")

	_, err := s.ProcessTurn(context.Background(), room.ID, guest, "too late")
	require.Error(t, err)
	assert.Equal(t, kindInvalidState, errorKind(err))
}

func TestProcessTurnWrongActor(t *testing.T) {
	s := newGameServer(t)
	room, _, guest := startedGame(t, s, 3)

	_, err := s.ProcessTurn(context.Background(), room.ID, guest, "not my turn yet")
	require.Error(t, err)
	assert.Equal(t, kindForbidden, errorKind(err))
	assert.Equal(t, "it is not your turn", err.Error())
}

func TestProcessTurnNonParticipant(t *testing.T) {
	s := newGameServer(t)
	room, _, _ := startedGame(t, s, 3)
	outsider := addTestUser(t, s, "outsider")

	_, err := s.ProcessTurn(context.Background(), room.ID, outsider, "let me in")
	require.Error(t, err)
	assert.Equal(t, kindForbidden, errorKind(err))
}

func TestProcessTurnFailureDoesNotConsumeTurn(t *testing.T) {
	s := newGameServer(t)
	room, host, _ := startedGame(t, s, 3)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(backend.Close)
	s.images = testImageClient(backend.URL)

	before, _ := s.store.GetRoom(room.ID)
	turnBefore := before.CurrentTurn
	actorBefore := before.CurrentParticipantID
	imageBefore := before.CurrentImageKey
	turnsBefore := len(before.Turns)

	_, err := s.ProcessTurn(context.Background(), room.ID, host, "make it rain")
	require.Error(t, err)
	assert.Equal(t, kindExternal, errorKind(err))
	assert.Equal(t, causeUnavailable, errorCause(err))

	after, _ := s.store.GetRoom(room.ID)
	assert.Equal(t, turnBefore, after.CurrentTurn)
	assert.Equal(t, actorBefore, after.CurrentParticipantID)
	assert.Equal(t, imageBefore, after.CurrentImageKey)
	assert.Len(t, after.Turns, turnsBefore)

	// Same actor retries once the service recovers.
	s.images = newImageClient(config.Default(), s.logger)
	state, err := s.ProcessTurn(context.Background(), room.ID, host, "make it rain")
	require.NoError(t, err)
	assert.Equal(t, turnBefore+1, state.Room.CurrentTurn)
}

func TestProcessTurnSurvivesCallerDisconnect(t *testing.T) {
	s := newGameServer(t)
	room, host, _ := startedGame(t, s, 3)

	want := []byte("generated-after-disconnect")
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(b64Response(want))
	}))
	t.Cleanup(backend.Close)
	s.images = testImageClient(backend.URL)

	// The requester is gone before the edit call even starts; the turn
	// still completes and the room advances.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state, err := s.ProcessTurn(ctx, room.ID, host, "add a windmill")
	require.NoError(t, err)
	assert.Equal(t, 2, state.Room.CurrentTurn)

	stored, ok := s.store.GetImage(state.Room.CurrentImageKey)
	require.True(t, ok)
	assert.Equal(t, want, stored)
}

func TestConcurrentSubmissionsCommitExactlyOnce(t *testing.T) {
	s := newGameServer(t)
	room, host, _ := startedGame(t, s, 3)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(b64Response([]byte("slow-edit")))
	}))
	t.Cleanup(backend.Close)
	s.images = testImageClient(backend.URL)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ProcessTurn(context.Background(), room.ID, host, "double submit")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, rejections int
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		rejections++
		assert.Equal(t, kindForbidden, errorKind(err))
	}
	assert.Equal(t, 1, successes, "exactly one submission may commit")
	assert.Equal(t, 1, rejections)

	after, _ := s.store.GetRoom(room.ID)
	assert.Equal(t, 2, after.CurrentTurn)
	var firstTurnCommits int
	for _, turn := range after.Turns {
		if turn.Number == 1 {
			firstTurnCommits++
		}
	}
	assert.Equal(t, 1, firstTurnCommits, "turn one is recorded once")
}

func TestTurnCommitSurvivesMirrorOutage(t *testing.T) {
	s := New(unreachableDB(t), config.Default(), nil)
	room, host, guest := startedGame(t, s, 3)

	state, err := s.ProcessTurn(context.Background(), room.ID, host, "add a windmill")
	require.NoError(t, err, "a failed mirror write must not fail the turn")
	assert.Equal(t, 2, state.Room.CurrentTurn)
	assert.Len(t, state.Room.Turns, 2)

	holder, found := findParticipantByID(state.Room, state.Room.CurrentParticipantID)
	require.True(t, found)
	assert.Equal(t, guest.ID, holder.UserID)
}

func TestJoinCodeExhaustion(t *testing.T) {
	s := newGameServer(t)
	s.codeGen = func() string { return "AAAA22" }

	host := addTestUser(t, s, "host")
	_, err := s.CreateRoom(host, "first", 4, 3)
	require.NoError(t, err)

	other := addTestUser(t, s, "other")
	_, err = s.CreateRoom(other, "second", 4, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, errCodeGenerationExhausted)
	assert.Equal(t, "code_generation_exhausted", errorCause(err))
}

func TestSkipTurnAdvancesWithoutConsuming(t *testing.T) {
	s := newGameServer(t)
	room, host, guest := startedGame(t, s, 3)

	_, err := s.SkipTurn(room.ID, guest)
	require.Error(t, err)
	assert.Equal(t, kindForbidden, errorKind(err))

	state, err := s.SkipTurn(room.ID, host)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Room.CurrentTurn, "skip leaves the counter alone")
	assert.Len(t, state.Room.Turns, 1)

	actor, found := findParticipantByID(state.Room, state.Room.CurrentParticipantID)
	require.True(t, found)
	assert.Equal(t, guest.ID, actor.UserID)
}

func TestEndGameEarly(t *testing.T) {
	s := newGameServer(t)
	room, host, guest := startedGame(t, s, 10)

	_, err := s.EndGame(room.ID, guest)
	require.Error(t, err)
	assert.Equal(t, kindForbidden, errorKind(err))

	state, err := s.EndGame(room.ID, host)
	require.NoError(t, err)
	assert.Equal(t, statusCompleted, state.Room.Status)
	require.NotNil(t, state.Room.EndedAt)

	_, err = s.EndGame(room.ID, host)
	require.Error(t, err)
	assert.Equal(t, kindInvalidState, errorKind(err))
}

func TestLeaveReassignsHeldTurn(t *testing.T) {
	s := newGameServer(t)
	host := addTestUser(t, s, "host")
	second := addTestUser(t, s, "second")
	third := addTestUser(t, s, "third")
	room, err := s.CreateRoom(host, "room", 4, 10)
	require.NoError(t, err)
	require.NoError(t, s.JoinRoom(room.ID, second))
	require.NoError(t, s.JoinRoom(room.ID, third))

	state, err := s.StartGame(context.Background(), room.ID, host, "a harbor", nil)
	require.NoError(t, err)
	room = state.Room

	// Advance so the second player holds the turn, then they leave.
	state, err = s.ProcessTurn(context.Background(), room.ID, host, "add a lighthouse")
	require.NoError(t, err)
	room = state.Room
	holder, found := findParticipantByID(room, room.CurrentParticipantID)
	require.True(t, found)
	require.Equal(t, second.ID, holder.UserID)

	require.NoError(t, s.LeaveRoom(room.ID, second))
	room, _ = s.store.GetRoom(room.ID)
	reassigned, found := findParticipantByID(room, room.CurrentParticipantID)
	require.True(t, found)
	assert.Equal(t, host.ID, reassigned.UserID, "turn falls to the lowest active order")
	assert.Equal(t, 2, room.CurrentTurn, "reassignment does not consume the turn")
}

func TestHostCannotLeave(t *testing.T) {
	s := newGameServer(t)
	room, host, _ := startedGame(t, s, 3)

	err := s.LeaveRoom(room.ID, host)
	require.Error(t, err)
	assert.Equal(t, kindForbidden, errorKind(err))
}

func TestCancelGame(t *testing.T) {
	s := newGameServer(t)
	host := addTestUser(t, s, "host")
	room, err := s.CreateRoom(host, "room", 4, 3)
	require.NoError(t, err)

	state, err := s.CancelGame(room.ID)
	require.NoError(t, err)
	assert.Equal(t, statusCancelled, state.Room.Status)

	_, err = s.CancelGame(room.ID)
	require.Error(t, err)
	assert.Equal(t, kindInvalidState, errorKind(err))
}

func TestStartStatsRecorded(t *testing.T) {
	s := newGameServer(t)
	room, host, guest := startedGame(t, s, 2)

	hostRecord, _ := s.store.GetUser(host.ID)
	assert.Equal(t, 1, hostRecord.GamesHosted)
	assert.Equal(t, 1, hostRecord.GamesPlayed)
	guestRecord, _ := s.store.GetUser(guest.ID)
	assert.Equal(t, 0, guestRecord.GamesHosted)
	assert.Equal(t, 1, guestRecord.GamesPlayed)

	_, err := s.ProcessTurn(context.Background(), room.ID, host, "brighter colors")
	require.NoError(t, err)
	hostRecord, _ = s.store.GetUser(host.ID)
	assert.Equal(t, 1, hostRecord.TurnsTaken)
}
