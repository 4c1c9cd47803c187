package main

import (
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"canvas-relay/internal/auth"
	"canvas-relay/internal/config"
	"canvas-relay/internal/db"
	"canvas-relay/internal/server"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.WithError(err).Warn("failed to load .env")
	}
	cfg := config.Load()

	if priv, pub := os.Getenv("JWT_PRIVATE_KEY_PATH"), os.Getenv("JWT_PUBLIC_KEY_PATH"); priv != "" && pub != "" {
		if err := auth.InitFromPath(priv, pub); err != nil {
			logger.WithError(err).Fatal("failed to load signing keys")
		}
	} else if err := auth.Init(); err != nil {
		logger.WithError(err).Fatal("failed to generate signing keys")
	}

	conn, err := db.Open()
	if err != nil {
		logger.WithError(err).Warn("running without database persistence")
		conn = nil
	} else {
		if err := db.ConfigurePool(conn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetimeSeconds, cfg.DBConnMaxIdleTimeSeconds); err != nil {
			logger.WithError(err).Fatal("failed to configure db pool")
		}
		if err := db.Migrate(conn); err != nil {
			logger.WithError(err).Fatal("failed to run migrations")
		}
	}

	addr := ":8080"
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	srv := server.New(conn, cfg, logger)
	logger.WithField("addr", addr).Info("canvas-relay server listening")
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}
