package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"aide/internal/logging"
)

// Store is the SQLite-backed default implementation of all three retrieval
// interfaces, plus the write operations the CLI uses to carry continuity
// across sessions.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewStore initializes the SQLite database at the given path.
func NewStore(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Memory("Opened memory store at %s", path)
	return store, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	dialogueTable := `
	CREATE TABLE IF NOT EXISTS dialogue_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_dialogue_session ON dialogue_turns(session_id);
	`

	episodeTable := `
	CREATE TABLE IF NOT EXISTS episodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_user ON episodes(user_id);
	`

	knowledgeTable := `
	CREATE TABLE IF NOT EXISTS knowledge (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, content)
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_user ON knowledge(user_id);
	`

	for _, table := range []string{dialogueTable, episodeTable, knowledgeTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ========== DialogueStore ==========

// AppendTurn records one dialogue turn for a session.
func (s *Store) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO dialogue_turns (session_id, role, content) VALUES (?, ?, ?)",
		sessionID, role, content,
	)
	return err
}

// Recent returns the last n turns of a session in chronological order.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM dialogue_turns WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query was newest-first; flip to chronological.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ========== EpisodeStore ==========

// RecordEpisode stores a summarized interaction for a user.
func (s *Store) RecordEpisode(ctx context.Context, userID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO episodes (user_id, summary) VALUES (?, ?)",
		userID, summary,
	)
	return err
}

// Recall returns episodes matching the query keywords, newest first.
func (s *Store) Recall(ctx context.Context, userID, query string, limit int) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}

	where, args := keywordConditions("summary", query)
	args = append([]any{userID}, args...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, summary, created_at FROM episodes
		 WHERE user_id = ? AND (%s) ORDER BY created_at DESC LIMIT ?`, where),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		var e Episode
		if err := rows.Scan(&e.ID, &e.UserID, &e.Summary, &e.CreatedAt); err != nil {
			return nil, err
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

// ========== KnowledgeStore ==========

// AddKnowledge stores a persistent fact about a user. Duplicate content
// for the same user is ignored.
func (s *Store) AddKnowledge(ctx context.Context, userID, content, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO knowledge (user_id, content, source) VALUES (?, ?, ?)",
		userID, content, source,
	)
	return err
}

// Retrieve returns facts matching the query keywords, newest first.
func (s *Store) Retrieve(ctx context.Context, userID, query string, limit int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	where, args := keywordConditions("content", query)
	args = append([]any{userID}, args...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, content, source, created_at FROM knowledge
		 WHERE user_id = ? AND (%s) ORDER BY created_at DESC LIMIT ?`, where),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &f.Source, &f.CreatedAt); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// keywordConditions builds a LIKE clause per query keyword, OR-joined.
// An empty query matches everything (recency-only retrieval).
func keywordConditions(column, query string) (string, []any) {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return "1=1", nil
	}

	conditions := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords))
	for _, kw := range keywords {
		conditions = append(conditions, fmt.Sprintf("LOWER(%s) LIKE ?", column))
		args = append(args, "%"+kw+"%")
	}
	return strings.Join(conditions, " OR "), args
}
