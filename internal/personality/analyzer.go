package personality

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// TraitClient is the model call the analyzer depends on. The provider
// package implements it.
type TraitClient interface {
	AnalyzeTraits(ctx context.Context, conversation string) (Analysis, error)
}

// UserMessage is one user turn fed into analysis.
type UserMessage struct {
	Content string
	Emotion string
}

const (
	// minConversationRunes guards against analyzing near-empty history;
	// below it the current profile is returned untouched.
	minConversationRunes = 50
	// analysisWindow is how many trailing user messages feed one analysis.
	analysisWindow = 20

	cacheTTL = 5 * time.Minute
)

type cachedAnalysis struct {
	analysis Analysis
	at       time.Time
}

// Analyzer runs trait analysis with a short-lived result cache so repeated
// update checks inside one session don't spend model calls.
type Analyzer struct {
	client TraitClient

	mu    sync.Mutex
	cache map[string]cachedAnalysis
}

func NewAnalyzer(client TraitClient) *Analyzer {
	return &Analyzer{
		client: client,
		cache:  make(map[string]cachedAnalysis),
	}
}

// Analyze refreshes a profile from the user's recent messages. It returns
// the merged profile plus the insight strings worth persisting. When the
// history is too thin to analyze, the current profile comes back unchanged
// with no insights.
func (a *Analyzer) Analyze(ctx context.Context, owner string, messages []UserMessage, current *Traits) (Traits, []string, error) {
	conversation := conversationText(messages)
	if utf8.RuneCountInString(conversation) < minConversationRunes {
		if current != nil {
			return *current, nil, nil
		}
		return DefaultTraits(), nil, nil
	}

	analysis, err := a.cachedAnalyze(ctx, owner, conversation)
	if err != nil {
		return Traits{}, nil, fmt.Errorf("analyze traits: %w", err)
	}

	merged := Merge(current, analysis)
	return merged, Insights(merged), nil
}

func (a *Analyzer) cachedAnalyze(ctx context.Context, owner, conversation string) (Analysis, error) {
	key := cacheKey(owner, conversation)

	a.mu.Lock()
	if hit, ok := a.cache[key]; ok && time.Since(hit.at) < cacheTTL {
		a.mu.Unlock()
		return hit.analysis, nil
	}
	a.mu.Unlock()

	analysis, err := a.client.AnalyzeTraits(ctx, conversation)
	if err != nil {
		return Analysis{}, err
	}

	a.mu.Lock()
	a.cache[key] = cachedAnalysis{analysis: analysis, at: time.Now()}
	a.mu.Unlock()
	return analysis, nil
}

// conversationText renders the trailing window of user messages the way the
// analysis prompt expects, one per line with the detected emotion attached.
func conversationText(messages []UserMessage) string {
	if len(messages) > analysisWindow {
		messages = messages[len(messages)-analysisWindow:]
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		line := m.Content
		if m.Emotion != "" {
			line += fmt.Sprintf(" [احساس: %s]", m.Emotion)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// cacheKey hashes the conversation head so near-identical windows within
// the TTL share one analysis.
func cacheKey(owner, conversation string) string {
	head := conversation
	if len(head) > 200 {
		head = head[:200]
	}
	h := fnv.New64a()
	h.Write([]byte(head))
	return fmt.Sprintf("%s:%x", owner, h.Sum64())
}
