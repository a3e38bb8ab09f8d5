package memory

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// Options tunes the store. Zero values fall back to the defaults the bot
// ships with.
type Options struct {
	// LongTermThreshold is the importance score at or above which a
	// message is also distilled into long-term memory.
	LongTermThreshold float64
	// CandidatePool is how many long-term records are pulled from sqlite
	// before ranking.
	CandidatePool int
	// ContextLimit caps how many records total go into a context block.
	ContextLimit int
	// CacheCap is the per-owner short-term cache size.
	CacheCap int
	// CacheMaxAge is how long cached entries survive between sweeps.
	CacheMaxAge time.Duration
	// PurgeAfter is the short-term retention window.
	PurgeAfter time.Duration
}

func (o *Options) applyDefaults() {
	if o.LongTermThreshold <= 0 {
		o.LongTermThreshold = 0.7
	}
	if o.CandidatePool <= 0 {
		o.CandidatePool = 50
	}
	if o.ContextLimit <= 0 {
		o.ContextLimit = 10
	}
	if o.CacheCap <= 0 {
		o.CacheCap = 20
	}
	if o.CacheMaxAge <= 0 {
		o.CacheMaxAge = time.Hour
	}
	if o.PurgeAfter <= 0 {
		o.PurgeAfter = 7 * 24 * time.Hour
	}
}

// Store is the tiered memory manager. Every message lands in short-term
// memory; the ones the scorer deems important enough are also summarized
// into long-term memory.
type Store struct {
	engine *Engine
	cache  *Cache
	opts   Options
}

func NewStore(engine *Engine, opts Options) *Store {
	opts.applyDefaults()
	return &Store{
		engine: engine,
		cache:  NewCache(opts.CacheCap, opts.CacheMaxAge),
		opts:   opts,
	}
}

// Remember stores one conversation message. The short-term record keeps the
// raw exchange; a long-term summary is written too when the scored
// importance crosses the threshold.
func (s *Store) Remember(owner, role, content, emotion string) error {
	importance := Score(content, emotion)

	shortContent := fmt.Sprintf("%s: %s", role, content)
	if emotion != "" {
		shortContent += fmt.Sprintf(" [emotion: %s]", emotion)
	}

	id, err := s.engine.Append(owner, TierShortTerm, shortContent, emotion, importance)
	if err != nil {
		return fmt.Errorf("remember short-term: %w", err)
	}
	s.cache.Add(owner, Record{
		ID:         id,
		Owner:      owner,
		Tier:       TierShortTerm,
		Content:    shortContent,
		Emotion:    emotion,
		Importance: importance,
		CreatedAt:  time.Now(),
	})

	if importance >= s.opts.LongTermThreshold {
		summary := Summarize(content, emotion, time.Now())
		if _, err := s.engine.Append(owner, TierLongTerm, summary, emotion, importance); err != nil {
			return fmt.Errorf("remember long-term: %w", err)
		}
	}
	return nil
}

// RememberInsight stores derived knowledge (personality insights and the
// like) directly in long-term memory at the given importance.
func (s *Store) RememberInsight(owner, text string, importance float64) error {
	if _, err := s.engine.Append(owner, TierLongTerm, text, "", importance); err != nil {
		return fmt.Errorf("remember insight: %w", err)
	}
	return nil
}

// Context assembles the memory block for a prompt: recent short-term
// messages first, then long-term records ranked against the query. Every
// record that makes the cut gets its access stats bumped.
func (s *Store) Context(owner, query string) (string, error) {
	var lines []string

	recentLimit := s.opts.ContextLimit / 2
	recent, err := s.engine.QueryShortTerm(owner, recentLimit)
	if err != nil {
		return "", fmt.Errorf("context short-term: %w", err)
	}
	for _, rec := range recent {
		lines = append(lines, "Recent: "+rec.Content)
		if err := s.engine.Touch(rec.ID); err != nil {
			log.Printf("[memory] touch %d failed: %v", rec.ID, err)
		}
	}

	candidates, err := s.engine.QueryLongTerm(owner, s.opts.CandidatePool)
	if err != nil {
		return "", fmt.Errorf("context long-term: %w", err)
	}
	ranked := Rank(query, candidates, s.opts.ContextLimit/2, time.Now())
	for _, rec := range ranked {
		lines = append(lines, "Background: "+rec.Content)
		if err := s.engine.Touch(rec.ID); err != nil {
			log.Printf("[memory] touch %d failed: %v", rec.ID, err)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// Cleanup purges expired short-term records for every owner. Returns the
// total number of records deleted.
func (s *Store) Cleanup() (int64, error) {
	owners, err := s.engine.Owners()
	if err != nil {
		return 0, fmt.Errorf("cleanup owners: %w", err)
	}
	var total int64
	for _, owner := range owners {
		n, err := s.engine.PurgeShortTerm(owner, s.opts.PurgeAfter)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", owner, err)
		}
		total += n
	}
	return total, nil
}

// SweepCache evicts aged cache entries and returns how many were dropped.
func (s *Store) SweepCache() int {
	return s.cache.Sweep()
}

// Summary reports the owner's memory counts.
func (s *Store) Summary(owner string) (Stats, error) {
	stats, err := s.engine.Stats(owner)
	if err != nil {
		return Stats{}, err
	}
	stats.Cached = s.cache.Len(owner)
	return stats, nil
}
