// Package matchq implements the cross-process audio/video waiting queue.
// Tickets are ordered by enqueue time; FindMatch claims the oldest waiting
// counterpart atomically so two processes never hand out the same ticket.
package matchq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

// claimScript pops the oldest member that is not the requester, atomically.
// KEYS[1] = queue key, ARGV[1] = requester id.
var claimScript = redis.NewScript(`
local entries = redis.call('ZRANGE', KEYS[1], 0, 1, 'WITHSCORES')
for i = 1, #entries, 2 do
	if entries[i] ~= ARGV[1] then
		redis.call('ZREM', KEYS[1], entries[i])
		return {entries[i], entries[i+1]}
	end
end
return false
`)

type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Redis{client: c}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ core.MatchQueue = (*Redis)(nil)

func queueKey(mode domain.Mode) string {
	return "match_queue:" + string(mode)
}

func (r *Redis) Enqueue(ctx context.Context, t core.MatchTicket) error {
	err := r.client.ZAdd(ctx, queueKey(t.Mode), redis.Z{
		Score:  float64(t.EnqueuedAt.UnixMilli()),
		Member: string(t.Participant),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue ticket: %w", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, id domain.ParticipantID, mode domain.Mode) error {
	removed, err := r.client.ZRem(ctx, queueKey(mode), string(id)).Result()
	if err != nil {
		return fmt.Errorf("remove ticket: %w", err)
	}
	if removed == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *Redis) FindMatch(ctx context.Context, t core.MatchTicket) (core.MatchTicket, error) {
	res, err := claimScript.Run(ctx, r.client, []string{queueKey(t.Mode)}, string(t.Participant)).Result()
	if err == redis.Nil {
		return core.MatchTicket{}, core.ErrNotFound
	}
	if err != nil {
		return core.MatchTicket{}, fmt.Errorf("claim ticket: %w", err)
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return core.MatchTicket{}, core.ErrNotFound
	}
	member, _ := pair[0].(string)
	var enqueued time.Time
	if scoreStr, ok := pair[1].(string); ok {
		var ms int64
		if _, err := fmt.Sscanf(scoreStr, "%d", &ms); err == nil {
			enqueued = time.UnixMilli(ms)
		}
	}
	return core.MatchTicket{
		Participant: domain.ParticipantID(member),
		Mode:        t.Mode,
		EnqueuedAt:  enqueued,
	}, nil
}

func (r *Redis) Depth(ctx context.Context, mode domain.Mode) (int, error) {
	n, err := r.client.ZCard(ctx, queueKey(mode)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return int(n), nil
}
