package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/motion-core/internal/motion"
)

// Record statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Record is a stored analysis.
type Record struct {
	ID         string              `json:"id"`
	Input      string              `json:"input"`
	Response   string              `json:"response,omitempty"`
	Status     string              `json:"status"`
	Attempts   int                 `json:"attempts"`
	Method     string              `json:"method,omitempty"`
	Set        *motion.MovementSet `json:"movements,omitempty"`
	Error      string              `json:"error,omitempty"`
	DurationMs int64               `json:"duration_ms"`
	CreatedAt  time.Time           `json:"created_at"`
}

// NewRecord builds a record from an analysis outcome and its error.
func NewRecord(id, input string, out *Outcome, err error) *Record {
	rec := &Record{
		ID:        id,
		Input:     input,
		Status:    StatusSucceeded,
		CreatedAt: time.Now().UTC(),
	}
	if out != nil {
		rec.Response = out.Response
		rec.Attempts = out.Attempts
		rec.Method = out.Method
		rec.Set = out.Set
		rec.DurationMs = out.Duration.Milliseconds()
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}
	return rec
}

// Repository stores analyses.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	// List returns the most recent records first.
	List(ctx context.Context, limit int) ([]Record, error)
}

const recordColumns = `id, input, response, status, attempts, method, movements, error, duration_ms, created_at`

// SQLiteRepository implements Repository using the analyses table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	var movements sql.NullString
	if rec.Set != nil {
		data, err := json.Marshal(rec.Set)
		if err != nil {
			return fmt.Errorf("marshalling movements: %w", err)
		}
		movements = sql.NullString{String: string(data), Valid: true}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO analyses (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Input,
		rec.Response,
		rec.Status,
		rec.Attempts,
		nullableString(rec.Method),
		movements,
		nullableString(rec.Error),
		rec.DurationMs,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting analysis: %w", err)
	}
	return nil
}

// GetByID retrieves a record.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM analyses WHERE id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying analysis by id: %w", err)
	}
	return rec, nil
}

// List retrieves up to limit records, newest first.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT ` + recordColumns + ` FROM analyses ORDER BY created_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating analyses: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec       Record
		method    sql.NullString
		movements sql.NullString
		errText   sql.NullString
		createdAt string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Input,
		&rec.Response,
		&rec.Status,
		&rec.Attempts,
		&method,
		&movements,
		&errText,
		&rec.DurationMs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Method = method.String
	rec.Error = errText.String
	if movements.Valid {
		var set motion.MovementSet
		if err := json.Unmarshal([]byte(movements.String), &set); err != nil {
			return nil, fmt.Errorf("parsing movements: %w", err)
		}
		rec.Set = &set
	}
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
