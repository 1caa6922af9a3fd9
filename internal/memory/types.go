// Package memory assembles the model's context from tiered recall: stored
// knowledge, past episodes, and recent dialogue. The retrieval interfaces
// are the boundary; a SQLite-backed Store is the default implementation.
package memory

import (
	"context"
	"time"
)

// Turn is one exchange of a dialogue session.
type Turn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Episode is a summarized past interaction attributed to a user.
type Episode struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Fact is a persistent piece of knowledge about a user.
type Fact struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DialogueStore retrieves the most recent turns of a session.
type DialogueStore interface {
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)
}

// EpisodeStore recalls past episodes relevant to a query.
type EpisodeStore interface {
	Recall(ctx context.Context, userID, query string, limit int) ([]Episode, error)
}

// KnowledgeStore retrieves stored facts relevant to a query.
type KnowledgeStore interface {
	Retrieve(ctx context.Context, userID, query string, limit int) ([]Fact, error)
}
