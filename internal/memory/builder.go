package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"aide/internal/logging"
)

// Default builder settings.
const (
	DefaultBudget       = 8000
	DefaultMarker       = "\n...[context truncated]"
	DefaultRecentTurns  = 10
	DefaultEpisodeLimit = 5
	DefaultFactLimit    = 10
)

// BuilderConfig tunes context assembly.
type BuilderConfig struct {
	// Budget is the maximum length of the assembled context in characters.
	Budget int `yaml:"budget"`

	// Marker is appended when the context is cut at the budget.
	Marker string `yaml:"marker"`

	// RecentTurns is how many dialogue turns to pull.
	RecentTurns int `yaml:"recent_turns"`

	// EpisodeLimit is how many episodes to recall.
	EpisodeLimit int `yaml:"episode_limit"`

	// FactLimit is how many knowledge facts to retrieve.
	FactLimit int `yaml:"fact_limit"`
}

// DefaultBuilderConfig returns sensible defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Budget:       DefaultBudget,
		Marker:       DefaultMarker,
		RecentTurns:  DefaultRecentTurns,
		EpisodeLimit: DefaultEpisodeLimit,
		FactLimit:    DefaultFactLimit,
	}
}

// ContextBuilder assembles the prompt context from the three retrieval
// tiers. A failing tier degrades to an empty section; it never aborts
// assembly.
type ContextBuilder struct {
	dialogue  DialogueStore
	episodes  EpisodeStore
	knowledge KnowledgeStore
	config    BuilderConfig
}

// NewContextBuilder creates a builder over the given stores. Any store may
// be nil; its section is simply skipped.
func NewContextBuilder(dialogue DialogueStore, episodes EpisodeStore, knowledge KnowledgeStore, config BuilderConfig) *ContextBuilder {
	if config.Budget <= 0 {
		config.Budget = DefaultBudget
	}
	if config.Marker == "" {
		config.Marker = DefaultMarker
	}
	if config.RecentTurns <= 0 {
		config.RecentTurns = DefaultRecentTurns
	}
	if config.EpisodeLimit <= 0 {
		config.EpisodeLimit = DefaultEpisodeLimit
	}
	if config.FactLimit <= 0 {
		config.FactLimit = DefaultFactLimit
	}
	return &ContextBuilder{
		dialogue:  dialogue,
		episodes:  episodes,
		knowledge: knowledge,
		config:    config,
	}
}

// Build retrieves the three tiers concurrently and renders the non-empty
// sections in fixed order: knowledge, episodes, recent dialogue. The result
// never exceeds the configured budget.
func (b *ContextBuilder) Build(ctx context.Context, userID, sessionID, query string) string {
	timer := logging.StartTimer(logging.CategoryMemory, "Context assembly")
	defer timer.Stop()

	var (
		facts    []Fact
		episodes []Episode
		turns    []Turn
	)

	// Each tier fails independently; errors are logged and the tier's
	// section stays empty.
	g, gctx := errgroup.WithContext(ctx)

	if b.knowledge != nil {
		g.Go(func() error {
			result, err := b.knowledge.Retrieve(gctx, userID, query, b.config.FactLimit)
			if err != nil {
				logging.MemoryWarn("Knowledge retrieval failed: %v", err)
				return nil
			}
			facts = result
			return nil
		})
	}
	if b.episodes != nil {
		g.Go(func() error {
			result, err := b.episodes.Recall(gctx, userID, query, b.config.EpisodeLimit)
			if err != nil {
				logging.MemoryWarn("Episode recall failed: %v", err)
				return nil
			}
			episodes = result
			return nil
		})
	}
	if b.dialogue != nil {
		g.Go(func() error {
			result, err := b.dialogue.Recent(gctx, sessionID, b.config.RecentTurns)
			if err != nil {
				logging.MemoryWarn("Dialogue retrieval failed: %v", err)
				return nil
			}
			turns = result
			return nil
		})
	}

	// Goroutines never return errors, so Wait cannot fail.
	_ = g.Wait()

	var sections []string
	if s := renderKnowledge(facts); s != "" {
		sections = append(sections, s)
	}
	if s := renderEpisodes(episodes); s != "" {
		sections = append(sections, s)
	}
	if s := renderDialogue(turns); s != "" {
		sections = append(sections, s)
	}

	assembled := strings.Join(sections, "\n\n")
	logging.MemoryDebug("Assembled context: facts=%d episodes=%d turns=%d len=%d",
		len(facts), len(episodes), len(turns), len(assembled))

	return b.enforceBudget(assembled)
}

// enforceBudget cuts the context at the budget and appends the marker, so
// the final length never exceeds the budget. The cut backs off to a rune
// boundary so the model never receives a split UTF-8 sequence.
func (b *ContextBuilder) enforceBudget(s string) string {
	if len(s) <= b.config.Budget {
		return s
	}

	marker := b.config.Marker
	if b.config.Budget <= len(marker) {
		return marker[:b.config.Budget]
	}

	cut := s[:b.config.Budget-len(marker)]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size > 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	logging.MemoryWarn("Context over budget: %d > %d, truncating", len(s), b.config.Budget)
	return cut + marker
}

func renderKnowledge(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Known facts\n")
	for _, f := range facts {
		sb.WriteString(fmt.Sprintf("- %s\n", f.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderEpisodes(episodes []Episode) string {
	if len(episodes) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Past interactions\n")
	for _, e := range episodes {
		sb.WriteString(fmt.Sprintf("- [%s] %s\n", e.CreatedAt.Format("2006-01-02"), e.Summary))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderDialogue(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Recent dialogue\n")
	for _, t := range turns {
		sb.WriteString(fmt.Sprintf("%s: %s\n", t.Role, t.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}
