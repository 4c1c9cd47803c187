package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"canvas-relay/internal/config"
)

// presenceTracker records which users hold a live WebSocket per room. Backed
// by Redis sets when REDIS_ADDR is configured so presence survives across
// instances; otherwise an in-process map, which is correct for a single
// node.
type presenceTracker struct {
	rdb    *redis.Client
	mu     sync.Mutex
	local  map[uint]map[string]struct{}
	logger *logrus.Logger
}

func newPresenceTracker(cfg config.Config, logger *logrus.Logger) *presenceTracker {
	tracker := &presenceTracker{
		local:  make(map[uint]map[string]struct{}),
		logger: logger,
	}
	if cfg.RedisAddr == "" {
		return tracker
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable, using in-process presence")
		_ = rdb.Close()
		return tracker
	}
	tracker.rdb = rdb
	logger.WithField("addr", cfg.RedisAddr).Info("presence backed by redis")
	return tracker
}

func presenceKey(roomID uint) string {
	return fmt.Sprintf("presence:room:%d", roomID)
}

func (p *presenceTracker) Join(roomID uint, userPublicID string) {
	if p.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.rdb.SAdd(ctx, presenceKey(roomID), userPublicID).Err(); err != nil {
			p.logger.WithError(err).Warn("presence join failed")
		}
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.local[roomID]
	if set == nil {
		set = make(map[string]struct{})
		p.local[roomID] = set
	}
	set[userPublicID] = struct{}{}
}

func (p *presenceTracker) Leave(roomID uint, userPublicID string) {
	if p.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.rdb.SRem(ctx, presenceKey(roomID), userPublicID).Err(); err != nil {
			p.logger.WithError(err).Warn("presence leave failed")
		}
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.local[roomID]
	if set == nil {
		return
	}
	delete(set, userPublicID)
	if len(set) == 0 {
		delete(p.local, roomID)
	}
}

func (p *presenceTracker) List(roomID uint) []string {
	if p.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		members, err := p.rdb.SMembers(ctx, presenceKey(roomID)).Result()
		if err != nil {
			p.logger.WithError(err).Warn("presence list failed")
			return nil
		}
		return members
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	members := make([]string, 0, len(p.local[roomID]))
	for id := range p.local[roomID] {
		members = append(members, id)
	}
	return members
}
