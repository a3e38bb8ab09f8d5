// Package pipeline runs one user message through the full therapy exchange:
// analysis (emotion, memory recall, personality cadence), response
// generation, and persistence of both sides of the turn.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/hamdamlab/hamdam/internal/emotion"
	"github.com/hamdamlab/hamdam/internal/memory"
	"github.com/hamdamlab/hamdam/internal/personality"
	"github.com/hamdamlab/hamdam/internal/provider"
	"github.com/hamdamlab/hamdam/internal/store"
)

// defaultFirstName is used when the channel gave us nothing to call the user.
const defaultFirstName = "کاربر"

// CompletionClient is the model surface the pipeline needs. The provider
// package implements it; tests swap in a fake.
type CompletionClient interface {
	GenerateReply(ctx context.Context, req provider.ReplyRequest) (string, error)
	AnalyzeTraits(ctx context.Context, conversation string) (personality.Analysis, error)
}

// Result is the outcome of handling one message.
type Result struct {
	Reply    string
	FollowUp bool
	State    emotion.State
}

// Options wires the pipeline's collaborators. Sleep defaults to time.Sleep
// and exists so tests don't wait out the natural-feel delays.
type Options struct {
	Client CompletionClient
	Memory *memory.Store
	Users  *store.Store
	Sleep  func(time.Duration)
}

type Pipeline struct {
	client   CompletionClient
	memory   *memory.Store
	users    *store.Store
	analyzer *personality.Analyzer
	sleep    func(time.Duration)
}

func New(opts Options) *Pipeline {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Pipeline{
		client:   opts.Client,
		memory:   opts.Memory,
		users:    opts.Users,
		analyzer: personality.NewAnalyzer(opts.Client),
		sleep:    sleep,
	}
}

// Handle processes one inbound message and returns the reply to send.
func (p *Pipeline) Handle(ctx context.Context, owner, firstName, text string) (Result, error) {
	user, err := p.ensureUser(owner, firstName)
	if err != nil {
		return Result{}, err
	}

	memoryContext, err := p.memory.Context(owner, text)
	if err != nil {
		log.Printf("[pipeline] memory context for %s failed: %v", owner, err)
		memoryContext = ""
	}

	state := emotion.Detect(text)

	traits := p.refreshPersonality(ctx, user, text, state)

	followUp, question := followUpQuestion(text, memoryContext, state)

	p.naturalDelay(text, state, followUp)

	var reply string
	if followUp {
		reply = ackTemplates[rand.Intn(len(ackTemplates))] + " " + question
	} else {
		reply = p.generateReply(ctx, owner, text, traits, memoryContext, state)
		followUp = hasFollowUpCue(reply)
	}

	p.persistTurn(owner, text, reply, state)

	return Result{Reply: reply, FollowUp: followUp, State: state}, nil
}

func (p *Pipeline) ensureUser(owner, firstName string) (*store.User, error) {
	user, err := p.users.GetUser(owner)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	if firstName == "" {
		firstName = defaultFirstName
	}
	user, err = p.users.CreateUser(owner, firstName, "")
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	log.Printf("[pipeline] new user %s registered", owner)
	return user, nil
}

// refreshPersonality re-analyzes the profile when the message count hits
// the cadence, storing the merged traits and their insights. Failures fall
// back to the current profile; a bad analysis must not block the reply.
func (p *Pipeline) refreshPersonality(ctx context.Context, user *store.User, text string, state emotion.State) personality.Traits {
	count, err := p.users.UserMessageCount(user.ID)
	if err != nil {
		log.Printf("[pipeline] message count for %s failed: %v", user.ID, err)
		return user.Traits
	}
	// The message being handled counts toward the cadence.
	if !personality.ShouldUpdate(count + 1) {
		return user.Traits
	}

	history, err := p.users.RecentUserMessages(user.ID, 20)
	if err != nil {
		log.Printf("[pipeline] history for %s failed: %v", user.ID, err)
		return user.Traits
	}
	window := make([]personality.UserMessage, 0, len(history)+1)
	for _, m := range history {
		window = append(window, personality.UserMessage{Content: m.Content, Emotion: m.Emotion})
	}
	window = append(window, personality.UserMessage{Content: text, Emotion: string(state)})

	current := user.Traits
	merged, insights, err := p.analyzer.Analyze(ctx, user.ID, window, &current)
	if err != nil {
		log.Printf("[pipeline] personality analysis for %s failed: %v", user.ID, err)
		return user.Traits
	}
	if merged == current {
		return user.Traits
	}

	if err := p.users.UpdateTraits(user.ID, merged); err != nil {
		log.Printf("[pipeline] trait update for %s failed: %v", user.ID, err)
		return user.Traits
	}
	if len(insights) > 0 {
		summary := "Personality insights: " + strings.Join(insights, ", ")
		if err := p.memory.RememberInsight(user.ID, summary, 0.8); err != nil {
			log.Printf("[pipeline] insight store for %s failed: %v", user.ID, err)
		}
	}
	log.Printf("[pipeline] personality updated for %s", user.ID)
	return merged
}

func (p *Pipeline) generateReply(ctx context.Context, owner, text string, traits personality.Traits, memoryContext string, state emotion.State) string {
	history, err := p.users.RecentMessages(owner, 10)
	if err != nil {
		log.Printf("[pipeline] conversation history for %s failed: %v", owner, err)
	}
	turns := make([]provider.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, provider.Turn{Role: m.Role, Content: m.Content})
	}

	reply, err := p.client.GenerateReply(ctx, provider.ReplyRequest{
		Message:       text,
		Traits:        &traits,
		MemoryContext: memoryContext,
		History:       turns,
	})
	if err != nil {
		log.Printf("[pipeline] model reply for %s failed, using fallback: %v", owner, err)
		return fallbackReply(state)
	}
	return reply
}

// persistTurn records both sides of the exchange in memory and in the
// conversation transcript. Storage failures are logged, never surfaced;
// the user already has their reply.
func (p *Pipeline) persistTurn(owner, text, reply string, state emotion.State) {
	if err := p.memory.Remember(owner, "user", text, string(state)); err != nil {
		log.Printf("[pipeline] remember user turn for %s failed: %v", owner, err)
	}
	if err := p.memory.Remember(owner, "assistant", reply, ""); err != nil {
		log.Printf("[pipeline] remember assistant turn for %s failed: %v", owner, err)
	}

	convID, err := p.users.LatestConversation(owner)
	if err != nil {
		log.Printf("[pipeline] conversation lookup for %s failed: %v", owner, err)
		return
	}
	if convID == "" {
		convID, err = p.users.StartConversation(owner)
		if err != nil {
			log.Printf("[pipeline] conversation start for %s failed: %v", owner, err)
			return
		}
	}
	if err := p.users.AppendMessage(convID, owner, "user", text, string(state)); err != nil {
		log.Printf("[pipeline] transcript user turn for %s failed: %v", owner, err)
	}
	if err := p.users.AppendMessage(convID, owner, "assistant", reply, ""); err != nil {
		log.Printf("[pipeline] transcript assistant turn for %s failed: %v", owner, err)
	}
}

func (p *Pipeline) naturalDelay(text string, state emotion.State, followUp bool) {
	min, max := delayRange(text, state, followUp)
	p.sleep(min + time.Duration(rand.Int63n(int64(max-min))))
}
