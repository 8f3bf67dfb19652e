// Package store keeps the latest result for every keyword in SQLite so a
// run can be inspected or resumed after the process exits.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/byteowlz/pinscrpr/internal/parser"
	"github.com/byteowlz/pinscrpr/internal/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("store: keyword not found")

// timeLayout is fixed width so finished_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is a stored result.
type Record struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	pipeline.AnalysisResult
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database file at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: an in-memory database lives and dies with it.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// Save stores r as the latest result for its keyword and returns the row id.
// A keyword that was saved before keeps its id.
func (s *Store) Save(ctx context.Context, runID string, r pipeline.AnalysisResult) (string, error) {
	titles, err := encodeList(r.Titles)
	if err != nil {
		return "", err
	}
	descriptions, err := encodeList(r.Descriptions)
	if err != nil {
		return "", err
	}
	overlays, err := encodeList(r.Overlays)
	if err != nil {
		return "", err
	}
	finished := r.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO results (id, run_id, keyword, titles, descriptions, overlays, source, success, error, match_ratio, strategy, attempts, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(keyword) DO UPDATE SET
			run_id = excluded.run_id,
			titles = excluded.titles,
			descriptions = excluded.descriptions,
			overlays = excluded.overlays,
			source = excluded.source,
			success = excluded.success,
			error = excluded.error,
			match_ratio = excluded.match_ratio,
			strategy = excluded.strategy,
			attempts = excluded.attempts,
			finished_at = excluded.finished_at
		RETURNING id`,
		uuid.NewString(), runID, r.Keyword, titles, descriptions, overlays,
		string(r.Source), r.Success, r.Error, r.MatchRatio, r.Strategy, r.Attempts,
		finished.UTC().Format(timeLayout),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("saving %q: %w", r.Keyword, err)
	}
	return id, nil
}

const selectRecord = `SELECT id, run_id, keyword, titles, descriptions, overlays, source, success, error, match_ratio, strategy, attempts, finished_at FROM results`

func (s *Store) Get(ctx context.Context, keyword string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+" WHERE keyword = ?", keyword)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns stored results, newest first. An empty runID lists every run.
func (s *Store) List(ctx context.Context, runID string) ([]Record, error) {
	query := selectRecord
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY finished_at DESC, keyword ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                            Record
		titles, descriptions, overlays string
		source, finished               string
	)
	err := row.Scan(&rec.ID, &rec.RunID, &rec.Keyword, &titles, &descriptions, &overlays,
		&source, &rec.Success, &rec.Error, &rec.MatchRatio, &rec.Strategy, &rec.Attempts, &finished)
	if err != nil {
		return Record{}, err
	}
	rec.Source = parser.Source(source)

	if rec.Titles, err = decodeList(titles); err != nil {
		return Record{}, err
	}
	if rec.Descriptions, err = decodeList(descriptions); err != nil {
		return Record{}, err
	}
	if rec.Overlays, err = decodeList(overlays); err != nil {
		return Record{}, err
	}
	if rec.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Record{}, fmt.Errorf("parsing finished_at %q: %w", finished, err)
	}
	return rec, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	items := []string{}
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("decoding list: %w", err)
	}
	return items, nil
}
