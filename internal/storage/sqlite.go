// Package storage keeps a SQLite history of completed log analyses.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olegiv/logtriage-ai-go/internal/logging"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an analysis ID does not exist.
var ErrNotFound = errors.New("analysis not found")

// Storage handles database operations
type Storage struct {
	db  *sql.DB
	log *logging.SecureLogger
}

// Analysis is one stored triage run. The log text itself is never persisted.
type Analysis struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	SourceName   string    `json:"source_name"`
	IssueKey     string    `json:"issue_key,omitempty"`
	ProjectKey   string    `json:"project_key,omitempty"`
	Category     string    `json:"category"`
	MobileScore  int       `json:"mobile_score"`
	DesktopScore int       `json:"desktop_score"`
	Instruction  string    `json:"instruction"`
	Analysis     string    `json:"analysis"`
	Diagram      string    `json:"diagram,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}

// Filter narrows history queries. Empty fields match everything.
type Filter struct {
	ProjectKey string
	IssueKey   string
	Category   string
}

func (f *Filter) where() (string, []interface{}) {
	if f == nil {
		return "", nil
	}

	var clauses []string
	var args []interface{}
	if f.ProjectKey != "" {
		clauses = append(clauses, "project_key = ?")
		args = append(args, f.ProjectKey)
	}
	if f.IssueKey != "" {
		clauses = append(clauses, "issue_key = ?")
		args = append(args, f.IssueKey)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " AND "), args
}

const (
	// busyTimeoutMs is how long SQLite waits when the database is locked.
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 30 * time.Minute

	// timestampLayout is fixed width so stored UTC timestamps sort lexically.
	timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

	// contextSummaryChars caps each previous analysis in the historical context.
	contextSummaryChars = 300
)

// New opens (or creates) the history database at dbPath.
func New(dbPath string, log *logging.SecureLogger) (*Storage, error) {
	if log == nil {
		log = logging.NewNop()
	}

	// 0700: history may contain issue descriptions
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{db: db, log: log}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// currentSchemaVersion must be incremented with every new migration.
const currentSchemaVersion = 2

func (s *Storage) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	if err := s.migrateSchema(s.getSchemaVersion()); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version (0 if not set)
func (s *Storage) getSchemaVersion() int {
	var version int
	if err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return 0
	}
	return version
}

func (s *Storage) setSchemaVersion(version int) error {
	if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version)
	return err
}

func (s *Storage) migrateSchema(currentVersion int) error {
	if currentVersion >= currentSchemaVersion {
		return nil
	}

	s.log.Info().
		Int("from", currentVersion).
		Int("to", currentSchemaVersion).
		Msg("Migrating history schema")

	if currentVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	if currentVersion < 2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

// migrateV1 creates the analyses table.
func (s *Storage) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		source_name TEXT NOT NULL DEFAULT '',
		issue_key TEXT NOT NULL DEFAULT '',
		project_key TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		mobile_score INTEGER DEFAULT 0,
		desktop_score INTEGER DEFAULT 0,
		instruction TEXT NOT NULL,
		analysis TEXT NOT NULL,
		diagram TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		cost_usd REAL DEFAULT 0.0
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(timestamp);
	CREATE INDEX IF NOT EXISTS idx_analyses_category ON analyses(category);
	`

	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the warnings column and the issue/project index.
func (s *Storage) migrateV2() error {
	hasWarnings, err := s.hasColumn("analyses", "warnings")
	if err != nil {
		return err
	}

	if !hasWarnings {
		if _, err := s.db.Exec(`ALTER TABLE analyses ADD COLUMN warnings TEXT NOT NULL DEFAULT '[]'`); err != nil {
			return fmt.Errorf("failed to add warnings column: %w", err)
		}
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_analyses_issue ON analyses(project_key, issue_key)`); err != nil {
		return fmt.Errorf("failed to create issue index: %w", err)
	}

	return nil
}

func (s *Storage) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("failed to get table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SaveAnalysis inserts a record, assigning an ID and timestamp when missing.
func (s *Storage) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	warnings := a.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		INSERT INTO analyses (
			id, timestamp, source_name, issue_key, project_key, category,
			mobile_score, desktop_score, instruction, analysis, diagram, warnings,
			provider, model, input_tokens, output_tokens, cost_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		a.ID,
		formatTimestamp(a.Timestamp),
		a.SourceName,
		a.IssueKey,
		a.ProjectKey,
		a.Category,
		a.MobileScore,
		a.DesktopScore,
		a.Instruction,
		a.Analysis,
		a.Diagram,
		string(warningsJSON),
		a.Provider,
		a.Model,
		a.InputTokens,
		a.OutputTokens,
		a.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	return nil
}

const selectColumns = `
	SELECT id, timestamp, source_name, issue_key, project_key, category,
	       mobile_score, desktop_score, instruction, analysis, diagram, warnings,
	       provider, model, input_tokens, output_tokens, cost_usd
	FROM analyses`

// GetAnalysis returns one record by ID, or ErrNotFound.
func (s *Storage) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query analysis: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return scanAnalysis(rows)
}

// GetRecentAnalyses returns records from the last N days, newest first.
func (s *Storage) GetRecentAnalyses(ctx context.Context, days int, filter *Filter) ([]*Analysis, error) {
	query := selectColumns + ` WHERE timestamp >= ?`
	args := []interface{}{cutoff(days)}

	if clause, filterArgs := filter.where(); clause != "" {
		query += " AND " + clause
		args = append(args, filterArgs...)
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer s.closeRows(rows)

	analyses := []*Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}

	return analyses, rows.Err()
}

// GetHistoricalContext formats recent analyses for inclusion in a prompt.
// It returns "" when there is no matching history.
func (s *Storage) GetHistoricalContext(ctx context.Context, days int, filter *Filter) (string, error) {
	analyses, err := s.GetRecentAnalyses(ctx, days, filter)
	if err != nil {
		return "", err
	}

	if len(analyses) == 0 {
		return "", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Previous %d analyses:\n\n", len(analyses))

	for i, a := range analyses {
		fmt.Fprintf(&sb, "%d. %s - %s log", i+1, a.Timestamp.Local().Format("2006-01-02 15:04"), a.Category)
		if a.SourceName != "" {
			fmt.Fprintf(&sb, " (%s)", a.SourceName)
		}
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "   Summary: %s\n\n", shorten(a.Analysis, contextSummaryChars))
	}

	return sb.String(), nil
}

// CleanupOldAnalyses deletes records older than N days.
func (s *Storage) CleanupOldAnalyses(ctx context.Context, days int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE timestamp < ?`, cutoff(days))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old analyses: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

// GetStatistics returns totals and the category distribution.
func (s *Storage) GetStatistics(ctx context.Context, filter *Filter) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	whereClause := ""
	clause, args := filter.where()
	if clause != "" {
		whereClause = " WHERE " + clause
	}

	var total, inputTokens, outputTokens int
	var totalCost float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM analyses`+whereClause, args...).Scan(&total, &inputTokens, &outputTokens, &totalCost)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	stats["total_analyses"] = total
	stats["total_input_tokens"] = inputTokens
	stats["total_output_tokens"] = outputTokens
	stats["total_cost_usd"] = totalCost

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM analyses`+whereClause+` GROUP BY category`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer s.closeRows(rows)

	categories := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		categories[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats["category_distribution"] = categories

	return stats, nil
}

func (s *Storage) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close database rows")
	}
}

func scanAnalysis(rows *sql.Rows) (*Analysis, error) {
	var (
		a            Analysis
		timestamp    string
		warningsJSON string
	)

	err := rows.Scan(
		&a.ID, &timestamp, &a.SourceName, &a.IssueKey, &a.ProjectKey, &a.Category,
		&a.MobileScore, &a.DesktopScore, &a.Instruction, &a.Analysis, &a.Diagram, &warningsJSON,
		&a.Provider, &a.Model, &a.InputTokens, &a.OutputTokens, &a.CostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	a.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	if err := json.Unmarshal([]byte(warningsJSON), &a.Warnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}

	return &a, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func cutoff(days int) string {
	return formatTimestamp(time.Now().AddDate(0, 0, -days))
}

func shorten(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
