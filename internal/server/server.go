package server

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"canvas-relay/internal/config"
)

type Server struct {
	store    *Store
	db       *gorm.DB
	ws       *wsHub
	presence *presenceTracker
	images   *imageClient
	cfg      config.Config
	logger   *logrus.Logger

	// codeGen draws candidate join codes; swapped out in tests.
	codeGen func() string
}

func New(conn *gorm.DB, cfg config.Config, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		store:    NewStore(),
		db:       conn,
		ws:       newWSHub(),
		presence: newPresenceTracker(cfg, logger),
		images:   newImageClient(cfg, logger),
		cfg:      cfg,
		logger:   logger,
		codeGen:  newJoinCode,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.requireUser(s.handleMe))
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("POST /api/rooms", s.requireUser(s.handleCreateRoom))
	mux.HandleFunc("GET /api/rooms/{room}", s.handleGetRoom)
	mux.HandleFunc("POST /api/rooms/{room}/join", s.requireUser(s.handleJoinRoom))
	mux.HandleFunc("POST /api/rooms/{room}/leave", s.requireUser(s.handleLeaveRoom))
	mux.HandleFunc("POST /api/rooms/{room}/settings", s.requireUser(s.handleRoomSettings))
	mux.HandleFunc("POST /api/rooms/{room}/start", s.requireUser(s.handleStartGame))
	mux.HandleFunc("POST /api/rooms/{room}/turns", s.requireUser(s.handleSubmitTurn))
	mux.HandleFunc("POST /api/rooms/{room}/skip", s.requireUser(s.handleSkipTurn))
	mux.HandleFunc("POST /api/rooms/{room}/end", s.requireUser(s.handleEndGame))
	mux.HandleFunc("GET /api/rooms/{room}/turns", s.handleListTurns)
	mux.HandleFunc("GET /api/rooms/{room}/events", s.handleListEvents)
	mux.HandleFunc("GET /api/rooms/{room}/images/{key}", s.handleGetImage)
	mux.HandleFunc("GET /ws/rooms/{room}", s.handleRoomWS)
	return logMiddleware(s.logger)(mux)
}

// resolveRoom accepts either a numeric room id or a join code.
func (s *Server) resolveRoom(idOrCode string) (*Room, bool) {
	if id, ok := parseRoomID(idOrCode); ok {
		if room, found := s.store.GetRoom(id); found {
			return room, true
		}
	}
	return s.store.FindRoomByCode(idOrCode)
}
