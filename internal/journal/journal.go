// Package journal keeps a local, append-only audit trail of operator
// actions against the platform. Nothing reads it to answer requests.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"storecast/internal/db"
	"storecast/internal/migrate"
)

const (
	TypeDistributionCreated = "distribution.created"
	TypeDistributionDeleted = "distribution.deleted"
	TypeFanoutFinished      = "fanout.finished"
	TypeProfilesImported    = "profiles.imported"
	TypeCreateFailed        = "distribution.create_failed"
)

// Payload is free-form event data stored as JSON.
type Payload map[string]any

// Recorder appends journal entries.
type Recorder interface {
	Record(ctx context.Context, evtType, operationID, distributionID string, payload Payload) error
}

// Discard is a Recorder that drops everything.
type Discard struct{}

func (Discard) Record(context.Context, string, string, string, Payload) error { return nil }

// Entry is one stored journal row.
type Entry struct {
	ID             int64          `db:"id" json:"id"`
	TS             string         `db:"ts" json:"ts"`
	Type           string         `db:"type" json:"type"`
	OperationID    sql.NullString `db:"operation_id" json:"-"`
	DistributionID sql.NullString `db:"distribution_id" json:"-"`
	PayloadJSON    string         `db:"payload_json" json:"-"`
}

// Payload decodes the entry's payload; malformed JSON yields an empty map.
func (e Entry) Payload() Payload {
	p := Payload{}
	_ = json.Unmarshal([]byte(e.PayloadJSON), &p)
	return p
}

// Journal is a SQLite-backed Recorder.
type Journal struct {
	DB  *sqlx.DB
	Now func() time.Time
}

// Open opens the journal database at path and applies migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{DB: conn}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.DB.Close()
}

func (j *Journal) Record(ctx context.Context, evtType, operationID, distributionID string, payload Payload) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = j.DB.ExecContext(ctx, `INSERT INTO journal(ts,type,operation_id,distribution_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(operationID), nullable(distributionID), string(data))
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Latest returns up to limit entries, newest first.
func (j *Journal) Latest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []Entry
	err := j.DB.SelectContext(ctx, &entries,
		`SELECT id,ts,type,operation_id,distribution_id,payload_json FROM journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}

// ForOperation returns every entry of one operation in insertion order.
func (j *Journal) ForOperation(ctx context.Context, operationID string) ([]Entry, error) {
	var entries []Entry
	err := j.DB.SelectContext(ctx, &entries,
		`SELECT id,ts,type,operation_id,distribution_id,payload_json FROM journal WHERE operation_id=? ORDER BY id`, operationID)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
