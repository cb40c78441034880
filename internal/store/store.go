// Package store provides the document store the rest of the application
// persists through: JSON documents grouped into named collections, with a
// narrow create/query/update surface. Documents live in a single SQLite
// table and are filtered with json_extract, so callers never write SQL.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register pure-Go SQLite driver for database/sql

	"github.com/krittin/examscan/internal/logger"
)

// Collection names. Keeping them here prevents typo'd collections from
// silently creating empty result sets.
const (
	Users          = "users"
	LoginSessions  = "login_sessions"
	SignupSessions = "signup_sessions"
	ScannedAnswers = "scanned_answers"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides document-oriented access to the underlying SQLite database.
// The raw DB handle is exported for the event bus and maintenance jobs,
// which manage their own tables.
type Store struct {
	DB *sql.DB
}

// Condition is one filter clause; conditions passed together are ANDed.
// Op is one of "==", "!=", ">", ">=", "<", "<=".
type Condition struct {
	Field string
	Op    string
	Value interface{}
}

// Where is shorthand for building a Condition.
func Where(field, op string, value interface{}) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// Query options. A zero Options means "no limit, insertion order".
type Options struct {
	Limit    int
	Offset   int
	SortBy   string
	SortDesc bool
}

// Open opens (creating if necessary) the database at the given path and
// runs pending migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode allows multiple concurrent readers + 1 writer.
	// Fewer connections reduces lock contention in SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{DB: db}
	if err := s.runMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// OpenInMemory opens a fresh in-memory store. Intended for tests.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// A single connection keeps every query on the same in-memory database.
	db.SetMaxOpenConns(1)

	s := &Store{DB: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func configureSQLite(db *sql.DB) error {
	criticalPragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	}
	for _, pragma := range criticalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set critical pragma %s: %w", pragma, err)
		}
	}

	optionalPragmas := []string{
		"PRAGMA synchronous=FULL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=-8000",
	}
	for _, pragma := range optionalPragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warnf("Failed to set pragma %s: %v", pragma, err)
		}
	}
	return nil
}

func (s *Store) runMigrations() error {
	if _, err := s.DB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		if err := s.DB.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", name).Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		script, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.DB.Exec(string(script)); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
		if _, err := s.DB.Exec("INSERT INTO schema_migrations (version) VALUES (?)", name); err != nil {
			return err
		}
		logger.Infof("Applied migration %s", name)
	}

	return nil
}

// fieldPattern restricts condition/sort fields to plain identifiers so
// they can be spliced into json_extract paths safely.
var fieldPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var sqlOps = map[string]string{
	"==": "=",
	"!=": "!=",
	">":  ">",
	">=": ">=",
	"<":  "<",
	"<=": "<=",
}

// normalizeValue converts Go values to forms SQLite can compare against
// json_extract output. Times become RFC 3339 UTC strings (whole seconds,
// matching how documents are written) so range comparisons stay
// lexicographic-safe.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Truncate(time.Second).Format(time.RFC3339)
	default:
		return v
	}
}

func buildWhere(collection string, conds []Condition) (string, []interface{}, error) {
	var sb strings.Builder
	args := []interface{}{collection}
	sb.WriteString("collection = ?")

	for _, c := range conds {
		if !fieldPattern.MatchString(c.Field) {
			return "", nil, fmt.Errorf("invalid condition field %q", c.Field)
		}
		op, ok := sqlOps[c.Op]
		if !ok {
			return "", nil, fmt.Errorf("invalid condition operator %q", c.Op)
		}
		fmt.Fprintf(&sb, " AND json_extract(body, '$.%s') %s ?", c.Field, op)
		args = append(args, normalizeValue(c.Value))
	}

	return sb.String(), args, nil
}

// Create inserts a document into a collection, replacing any existing
// document with the same id.
func (s *Store) Create(collection, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document for %s: %w", collection, err)
	}

	_, err = ExecWithRetry(s.DB, `
        INSERT OR REPLACE INTO documents (collection, id, body, created_at)
        VALUES (?, ?, ?, ?)
    `, collection, id, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create document in %s: %w", collection, err)
	}

	logger.Debugf("Created document %s in %s", id, collection)
	return nil
}

// Query fetches documents matching all conditions and unmarshals them
// into out, which must be a pointer to a slice of the document type.
func (s *Store) Query(collection string, conds []Condition, opt Options, out interface{}) error {
	where, args, err := buildWhere(collection, conds)
	if err != nil {
		return err
	}

	query := "SELECT body FROM documents WHERE " + where
	if opt.SortBy != "" {
		if !fieldPattern.MatchString(opt.SortBy) {
			return fmt.Errorf("invalid sort field %q", opt.SortBy)
		}
		dir := "ASC"
		if opt.SortDesc {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY json_extract(body, '$.%s') %s", opt.SortBy, dir)
	}
	if opt.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opt.Limit)
		if opt.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opt.Offset)
		}
	}

	rows, err := QueryWithRetry(s.DB, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	// Assemble one JSON array so the caller's slice is populated in a
	// single unmarshal.
	var buf strings.Builder
	buf.WriteByte('[')
	first := true
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		buf.WriteString(body)
		first = false
	}
	if err := rows.Err(); err != nil {
		return err
	}
	buf.WriteByte(']')

	return json.Unmarshal([]byte(buf.String()), out)
}

// QueryOne fetches at most one matching document into out (a pointer to
// the document type). Returns false if no document matched.
func (s *Store) QueryOne(collection string, conds []Condition, out interface{}) (bool, error) {
	where, args, err := buildWhere(collection, conds)
	if err != nil {
		return false, err
	}

	var body string
	err = s.DB.QueryRow("SELECT body FROM documents WHERE "+where+" LIMIT 1", args...).Scan(&body)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal document from %s: %w", collection, err)
	}
	return true, nil
}

// Count returns the number of documents matching all conditions.
func (s *Store) Count(collection string, conds []Condition) (int, error) {
	where, args, err := buildWhere(collection, conds)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.DB.QueryRow("SELECT COUNT(*) FROM documents WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// Update applies the given field/value pairs to every document matching
// all conditions and returns the number of documents updated.
func (s *Store) Update(collection string, conds []Condition, sets map[string]interface{}) (int64, error) {
	if len(sets) == 0 {
		return 0, nil
	}

	where, args, err := buildWhere(collection, conds)
	if err != nil {
		return 0, err
	}

	// Stable ordering keeps the generated SQL deterministic.
	fields := make([]string, 0, len(sets))
	for f := range sets {
		if !fieldPattern.MatchString(f) {
			return 0, fmt.Errorf("invalid update field %q", f)
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)

	// Values go through json(?) so booleans and nested values land as real
	// JSON types rather than SQLite scalars.
	expr := "body"
	setArgs := make([]interface{}, 0, len(sets))
	for _, f := range fields {
		raw, err := json.Marshal(normalizeValue(sets[f]))
		if err != nil {
			return 0, fmt.Errorf("failed to marshal update value for %s: %w", f, err)
		}
		expr = fmt.Sprintf("json_set(%s, '$.%s', json(?))", expr, f)
		setArgs = append(setArgs, string(raw))
	}

	query := "UPDATE documents SET body = " + expr + " WHERE " + where
	res, err := ExecWithRetry(s.DB, query, append(setArgs, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", collection, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		logger.Debugf("Updated %d document(s) in %s", n, collection)
	}
	return n, nil
}
