package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type stubDialogue struct {
	turns []Turn
	err   error
}

func (s *stubDialogue) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	return s.turns, s.err
}

type stubEpisodes struct {
	episodes []Episode
	err      error
}

func (s *stubEpisodes) Recall(ctx context.Context, userID, query string, limit int) ([]Episode, error) {
	return s.episodes, s.err
}

type stubKnowledge struct {
	facts []Fact
	err   error
}

func (s *stubKnowledge) Retrieve(ctx context.Context, userID, query string, limit int) ([]Fact, error) {
	return s.facts, s.err
}

func fullBuilder(cfg BuilderConfig) *ContextBuilder {
	when := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	return NewContextBuilder(
		&stubDialogue{turns: []Turn{
			{Role: "user", Content: "open my report"},
			{Role: "assistant", Content: "done"},
		}},
		&stubEpisodes{episodes: []Episode{
			{Summary: "helped organize downloads", CreatedAt: when},
		}},
		&stubKnowledge{facts: []Fact{
			{Content: "prefers dark mode"},
			{Content: "works from ~/Documents/projects"},
		}},
		cfg,
	)
}

func TestBuildSectionOrder(t *testing.T) {
	b := fullBuilder(DefaultBuilderConfig())
	got := b.Build(context.Background(), "u1", "s1", "report")

	knowledge := strings.Index(got, "## Known facts")
	episodes := strings.Index(got, "## Past interactions")
	dialogue := strings.Index(got, "## Recent dialogue")

	if knowledge == -1 || episodes == -1 || dialogue == -1 {
		t.Fatalf("missing sections in output:\n%s", got)
	}
	if !(knowledge < episodes && episodes < dialogue) {
		t.Errorf("sections out of order: knowledge=%d episodes=%d dialogue=%d", knowledge, episodes, dialogue)
	}
}

func TestBuildBudgetProperty(t *testing.T) {
	cfg := DefaultBuilderConfig()
	full := fullBuilder(cfg).Build(context.Background(), "u1", "s1", "report")

	// Shrink the budget below the full output and check the property:
	// length never exceeds the budget, the output ends with the marker,
	// and the prefix matches the untruncated assembly.
	for _, budget := range []int{len(full) - 1, len(full) / 2, 40} {
		cfg.Budget = budget
		got := fullBuilder(cfg).Build(context.Background(), "u1", "s1", "report")

		if len(got) > budget {
			t.Errorf("budget %d: output length %d exceeds budget", budget, len(got))
		}
		if !strings.HasSuffix(got, cfg.Marker) {
			t.Errorf("budget %d: output does not end with marker", budget)
		}
		body := strings.TrimSuffix(got, cfg.Marker)
		if !strings.HasPrefix(full, body) {
			t.Errorf("budget %d: truncated body is not a prefix of the full output", budget)
		}
	}
}

func TestBuildBudgetKeepsRunesIntact(t *testing.T) {
	cfg := DefaultBuilderConfig()
	knowledge := &stubKnowledge{facts: []Fact{
		{Content: strings.Repeat("日本語の事実", 20)},
	}}

	// Sweep budgets across the multi-byte content so some land mid-rune.
	for budget := len(cfg.Marker) + 1; budget <= len(cfg.Marker)+40; budget++ {
		cfg.Budget = budget
		got := NewContextBuilder(nil, nil, knowledge, cfg).Build(context.Background(), "u1", "s1", "q")

		if len(got) > budget {
			t.Errorf("budget %d: output length %d exceeds budget", budget, len(got))
		}
		if !utf8.ValidString(got) {
			t.Errorf("budget %d: output is not valid UTF-8: %q", budget, got)
		}
	}
}

func TestBuildTinyBudget(t *testing.T) {
	cfg := DefaultBuilderConfig()
	cfg.Budget = 5 // smaller than the marker

	got := fullBuilder(cfg).Build(context.Background(), "u1", "s1", "report")
	if len(got) > 5 {
		t.Errorf("output length %d exceeds tiny budget", len(got))
	}
}

func TestBuildUnderBudgetUntouched(t *testing.T) {
	cfg := DefaultBuilderConfig()
	got := fullBuilder(cfg).Build(context.Background(), "u1", "s1", "report")

	if strings.Contains(got, strings.TrimSpace(cfg.Marker)) {
		t.Errorf("under-budget output must not carry the marker:\n%s", got)
	}
}

func TestBuildFailingTierDegrades(t *testing.T) {
	b := NewContextBuilder(
		&stubDialogue{turns: []Turn{{Role: "user", Content: "hi"}}},
		&stubEpisodes{err: errors.New("index offline")},
		&stubKnowledge{err: errors.New("db locked")},
		DefaultBuilderConfig(),
	)

	got := b.Build(context.Background(), "u1", "s1", "anything")
	if !strings.Contains(got, "## Recent dialogue") {
		t.Errorf("surviving tier missing from output:\n%s", got)
	}
	if strings.Contains(got, "## Known facts") || strings.Contains(got, "## Past interactions") {
		t.Errorf("failed tiers should produce empty sections:\n%s", got)
	}
}

func TestBuildAllEmpty(t *testing.T) {
	b := NewContextBuilder(&stubDialogue{}, &stubEpisodes{}, &stubKnowledge{}, DefaultBuilderConfig())

	if got := b.Build(context.Background(), "u1", "s1", "q"); got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}

func TestBuildNilStores(t *testing.T) {
	b := NewContextBuilder(nil, nil, nil, DefaultBuilderConfig())

	if got := b.Build(context.Background(), "u1", "s1", "q"); got != "" {
		t.Errorf("expected empty context with nil stores, got %q", got)
	}
}
