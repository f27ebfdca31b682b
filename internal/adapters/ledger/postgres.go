// Package ledger persists coin balances, session records and moderation
// reports. The Postgres adapter is authoritative in production; the memory
// adapter backs development and tests.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mkorchagin/pairchat/internal/core"
	"github.com/mkorchagin/pairchat/internal/domain"
)

type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

var _ core.CoinLedger = (*Postgres)(nil)
var _ core.SessionLedger = (*Postgres)(nil)
var _ core.IdentityDirectory = (*Postgres)(nil)

func (p *Postgres) Lookup(ctx context.Context, id domain.ParticipantID) (core.Profile, error) {
	var profile core.Profile
	err := p.pool.QueryRow(ctx,
		"SELECT id, tier, banned, coins FROM users WHERE id = $1",
		string(id),
	).Scan(&profile.ID, &profile.Tier, &profile.Banned, &profile.Coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Profile{}, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("lookup user: %w", err)
	}
	return profile, nil
}

// Spend debits atomically: the guard in the WHERE clause makes the balance
// check and the debit one statement, so concurrent spends cannot overdraw.
func (p *Postgres) Spend(ctx context.Context, id domain.ParticipantID, cost int) (core.CoinBalance, error) {
	var after core.CoinBalance
	err := p.pool.QueryRow(ctx, `
		UPDATE users
		SET coins = coins - $2,
		    total_chats = total_chats + 1,
		    daily_chats = daily_chats + 1
		WHERE id = $1 AND coins >= $2
		RETURNING coins + $2, total_chats - 1, daily_chats - 1
	`, string(id), cost).Scan(&after.Coins, &after.TotalChats, &after.DailyChats)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.CoinBalance{}, &core.InsufficientCoinsError{Participant: string(id)}
	}
	if err != nil {
		return core.CoinBalance{}, fmt.Errorf("spend coins: %w", err)
	}
	// RETURNING reconstructs the pre-spend snapshot for a possible refund.
	return after, nil
}

func (p *Postgres) Refund(ctx context.Context, id domain.ParticipantID, previous core.CoinBalance) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE users
		SET coins = $2, total_chats = $3, daily_chats = $4
		WHERE id = $1
	`, string(id), previous.Coins, previous.TotalChats, previous.DailyChats)
	if err != nil {
		return fmt.Errorf("refund coins: %w", err)
	}
	log.Info().Str("module", "ledger.postgres").Str("participant", string(id)).Msg("coin spend rolled back")
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *domain.Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, user1_id, user2_id, mode, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, string(s.ID), string(s.User1), string(s.User2), string(s.Mode), string(s.Status), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (p *Postgres) EndSession(ctx context.Context, id domain.SessionID, duration time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'ended', ended_at = now(), duration_ms = $2
		WHERE id = $1
	`, string(id), duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (p *Postgres) FileReport(ctx context.Context, r core.Report) error {
	transcript, err := json.Marshal(r.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO reports (room_id, session_id, reporter_id, reported_id, reason, description, transcript, filed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(r.RoomID), string(r.SessionID), string(r.ReporterID), string(r.ReportedID),
		r.Reason, r.Description, transcript, r.FiledAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}
