// Package provider talks to OpenRouter over the OpenAI chat-completions
// protocol. It owns the therapy system prompt and the personality-analysis
// contract; everything above it works with plain strings and structs.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hamdamlab/hamdam/internal/config"
	"github.com/hamdamlab/hamdam/internal/personality"
)

const (
	replyTopP             = 0.9
	replyFrequencyPenalty = 0.1
	replyPresencePenalty  = 0.1

	// historyWindow is how many prior turns ride along with a reply request.
	historyWindow = 10

	// minRequestGap keeps at least this much air between API calls; the
	// free OpenRouter tier throttles aggressively.
	minRequestGap = time.Second
)

// Turn is one prior message in the conversation history.
type Turn struct {
	Role    string
	Content string
}

// ReplyRequest carries everything a therapy reply is conditioned on.
type ReplyRequest struct {
	Message       string
	Traits        *personality.Traits
	MemoryContext string
	History       []Turn
}

type Client struct {
	api openai.Client
	cfg config.ProviderConfig

	mu          sync.Mutex
	lastRequest time.Time
}

func New(cfg config.ProviderConfig) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHeader("HTTP-Referer", cfg.SiteURL),
		option.WithHeader("X-Title", cfg.SiteName),
	}
	return &Client{
		api: openai.NewClient(opts...),
		cfg: cfg,
	}
}

// GenerateReply produces the therapeutic response for one user message.
func (c *Client) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	c.throttle()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.RequestTimeoutSec)*time.Second)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(therapySystemPrompt(req.Traits, req.MemoryContext)),
	}
	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, turn := range history {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(c.cfg.Model),
		Messages:         messages,
		Temperature:      openai.Float(c.cfg.ReplyTemperature),
		MaxTokens:        openai.Int(int64(c.cfg.ReplyMaxTokens)),
		TopP:             openai.Float(replyTopP),
		FrequencyPenalty: openai.Float(replyFrequencyPenalty),
		PresencePenalty:  openai.Float(replyPresencePenalty),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// AnalyzeTraits asks the model for a personality read of the conversation
// text. The model is prompted to answer with bare JSON; code fences are
// stripped before parsing because some models wrap anyway.
func (c *Client) AnalyzeTraits(ctx context.Context, conversation string) (personality.Analysis, error) {
	c.throttle()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.RequestTimeoutSec)*time.Second)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(analysisSystemPrompt),
			openai.UserMessage("Analyze this conversation text:\n\n" + conversation),
		},
		Temperature: openai.Float(c.cfg.AnalysisTemperature),
		MaxTokens:   openai.Int(int64(c.cfg.AnalysisMaxTokens)),
	})
	if err != nil {
		return personality.Analysis{}, fmt.Errorf("analysis completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return personality.Analysis{}, fmt.Errorf("analysis completion: empty choices")
	}

	return ParseAnalysis(resp.Choices[0].Message.Content)
}

// ParseAnalysis decodes the model's JSON answer, tolerating markdown fences.
func ParseAnalysis(raw string) (personality.Analysis, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))

	var analysis personality.Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return personality.Analysis{}, fmt.Errorf("parse analysis json: %w", err)
	}
	return analysis, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gap := time.Since(c.lastRequest); gap < minRequestGap {
		time.Sleep(minRequestGap - gap)
	}
	c.lastRequest = time.Now()
}
