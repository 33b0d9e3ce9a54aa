package db

import (
	"context"
	"database/sql"
	"time"

	"mcbridge/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) InsertChatMessage(ctx context.Context, m models.ChatMessage) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO bridge_messages (ts,direction,author,content) VALUES (?,?,?,?)`,
		m.TS.UTC(), m.Direction, m.Author, m.Content)
	return err
}

func (r *Repository) RecentChatMessages(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ts,direction,author,content FROM bridge_messages ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.ChatMessage, 0, limit)
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.TS, &m.Direction, &m.Author, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) InsertOpsEvent(ctx context.Context, e models.OpsEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO ops_events (ts,op,phase,ok,detail) VALUES (?,?,?,?,?)`,
		e.TS.UTC(), e.Op, e.Phase, e.OK, e.Detail)
	return err
}

func (r *Repository) RecentOpsEvents(ctx context.Context, limit int) ([]models.OpsEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ts,op,phase,ok,detail FROM ops_events ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.OpsEvent, 0, limit)
	for rows.Next() {
		var e models.OpsEvent
		if err := rows.Scan(&e.TS, &e.Op, &e.Phase, &e.OK, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bridge_messages WHERE ts < ?`, cutoff.UTC()); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM ops_events WHERE ts < ?`, cutoff.UTC())
	return err
}
