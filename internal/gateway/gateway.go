package gateway

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hamdamlab/hamdam/internal/bus"
	"github.com/hamdamlab/hamdam/internal/channel"
	"github.com/hamdamlab/hamdam/internal/config"
	"github.com/hamdamlab/hamdam/internal/cron"
	"github.com/hamdamlab/hamdam/internal/memory"
	"github.com/hamdamlab/hamdam/internal/pipeline"
	"github.com/hamdamlab/hamdam/internal/provider"
	"github.com/hamdamlab/hamdam/internal/store"
)

const (
	defaultFirstName = "کاربر"

	startRequiredReply = "لطفاً ابتدا دستور /start را اجرا کنید."
	busyReply          = "لطفاً کمی صبر کنید، دارم پیام شما را بررسی می‌کنم... 🤔"
	errorReply         = "متأسفانه خطایی رخ داده است. لطفاً دوباره تلاش کنید."

	welcomeTemplate = "سلام %s! 👋\n\n" +
		"من یک دستیار درمانی هستم که اینجا هستم تا به شما کمک کنم.\n" +
		"می‌توانید با من در مورد احساسات، مشکلات یا هر چیزی که در ذهنتان است صحبت کنید.\n\n" +
		"من مثل یک انسان واقعی پاسخ می‌دهم و گاهی ممکن است سوالاتی از شما بپرسم تا بهتر بتوانم کمکتان کنم.\n\n" +
		"برای شروع، چطور احساس می‌کنید؟ 🤔"

	helpReply = "🤖 راهنمای استفاده از ربات درمانی\n\n" +
		"دستورات موجود:\n" +
		"/start - شروع گفتگو با ربات\n" +
		"/help - نمایش این راهنما\n\n" +
		"نحوه استفاده:\n" +
		"• فقط با من صحبت کنید، مثل یک دوست واقعی\n" +
		"• من ممکن است سوالاتی از شما بپرسم\n" +
		"• صادقانه پاسخ دهید تا بتوانم بهتر کمکتان کنم\n" +
		"• تمام گفتگوهای شما محرمانه و امن هستند\n\n" +
		"نکته مهم:\n" +
		"من یک دستیار هوش مصنوعی هستم و جایگزین مشاوره حرفه‌ای نیستم. " +
		"در مواقع اضطراری، لطفاً با متخصصان واقعی تماس بگیرید.\n\n" +
		"آماده‌ام تا به شما کمک کنم! 😊"
)

// Maintenance tasks the gateway schedules for itself.
const (
	taskMemoryPurge = "memory:purge"
	taskCacheSweep  = "memory:cache-sweep"

	purgeJobName = "__internal_memory_purge"
	sweepJobName = "__internal_memory_cache_sweep"

	purgeExpr = "0 0 4 * * *"
	sweepExpr = "0 0 * * * *"
)

// Options for creating a Gateway. Client overrides the OpenRouter client
// and SignalChan replaces OS signal delivery; both exist for tests.
type Options struct {
	Client     pipeline.CompletionClient
	SignalChan chan os.Signal
	Sleep      func(time.Duration)
}

// Gateway wires the channels, the conversation pipeline, and background
// maintenance together around the message bus.
type Gateway struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	channels  *channel.ChannelManager
	cron      *cron.Service
	pipe      *pipeline.Pipeline
	users     *store.Store
	memStore  *memory.Store
	memEngine *memory.Engine
	sleep     func(time.Duration)

	signalChan chan os.Signal

	mu   sync.Mutex
	busy map[string]bool
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		busy:       make(map[string]bool),
		signalChan: opts.SignalChan,
		sleep:      opts.Sleep,
	}
	if g.sleep == nil {
		g.sleep = time.Sleep
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	memPath := strings.TrimSpace(cfg.Memory.DBPath)
	if memPath == "" {
		memPath = filepath.Join(config.DataDir(), "memory.db")
	}
	engine, err := memory.NewEngine(memPath)
	if err != nil {
		return nil, fmt.Errorf("create memory engine: %w", err)
	}
	g.memEngine = engine
	g.memStore = memory.NewStore(engine, memoryOptions(cfg.Memory))

	storePath := strings.TrimSpace(cfg.Store.DBPath)
	if storePath == "" {
		storePath = filepath.Join(config.DataDir(), "hamdam.db")
	}
	users, err := store.NewStore(storePath)
	if err != nil {
		_ = g.memEngine.Close()
		return nil, fmt.Errorf("create user store: %w", err)
	}
	g.users = users

	client := opts.Client
	if client == nil {
		client = provider.New(cfg.Provider)
	}

	g.pipe = pipeline.New(pipeline.Options{
		Client: client,
		Memory: g.memStore,
		Users:  g.users,
		Sleep:  opts.Sleep,
	})

	g.cron = cron.NewService(filepath.Join(config.DataDir(), "cron", "jobs.json"))
	g.cron.OnJob = g.runJob

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = g.memEngine.Close()
		_ = g.users.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func memoryOptions(cfg config.MemoryConfig) memory.Options {
	cacheMaxAge, err := time.ParseDuration(cfg.CacheMaxAge)
	if err != nil {
		cacheMaxAge = 0
	}
	return memory.Options{
		LongTermThreshold: cfg.LongTermThreshold,
		CandidatePool:     cfg.CandidatePool,
		ContextLimit:      cfg.ContextLimit,
		CacheCap:          cfg.CacheCap,
		CacheMaxAge:       cacheMaxAge,
		PurgeAfter:        time.Duration(cfg.PurgeAfterDays) * 24 * time.Hour,
	}
}

func (g *Gateway) runJob(job cron.CronJob) (string, error) {
	switch job.Payload.Task {
	case taskMemoryPurge:
		purged, err := g.memStore.Cleanup()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("purged %d expired short-term memories", purged), nil
	case taskCacheSweep:
		swept := g.memStore.SweepCache()
		return fmt.Sprintf("swept %d stale cache entries", swept), nil
	}
	return "", fmt.Errorf("unknown task %q", job.Payload.Task)
}

func (g *Gateway) ensureMaintenanceJobs() error {
	if _, err := g.cron.EnsureJob(purgeJobName, cron.Schedule{Expr: purgeExpr}, cron.Payload{Task: taskMemoryPurge}); err != nil {
		return err
	}
	if _, err := g.cron.EnsureJob(sweepJobName, cron.Schedule{Expr: sweepExpr}, cron.Payload{Task: taskCacheSweep}); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureMaintenanceJobs(); err != nil {
		log.Printf("[gateway] ensure maintenance jobs warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			if !g.markBusy(msg.SenderID) {
				g.reply(msg, busyReply)
				continue
			}
			go func(msg bus.InboundMessage) {
				defer g.clearBusy(msg.SenderID)
				g.handleInbound(ctx, msg)
			}(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	text := strings.TrimSpace(msg.Content)

	if strings.HasPrefix(text, "/") {
		g.handleCommand(msg, text)
		return
	}

	user, err := g.users.GetUser(msg.SenderID)
	if err != nil {
		log.Printf("[gateway] lookup user %s failed: %v", msg.SenderID, err)
		g.reply(msg, errorReply)
		return
	}
	if user == nil {
		g.reply(msg, startRequiredReply)
		return
	}

	g.bus.Outbound <- bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Typing: true}
	g.sleep(g.responseDelay())

	result, err := g.pipe.Handle(ctx, msg.SenderID, metadataString(msg, "first_name"), text)
	if err != nil {
		log.Printf("[gateway] pipeline error for %s: %v", msg.SenderID, err)
		g.reply(msg, errorReply)
		return
	}
	if result.Reply != "" {
		g.reply(msg, result.Reply)
	}
}

func (g *Gateway) handleCommand(msg bus.InboundMessage, text string) {
	cmd := strings.Fields(text)[0]
	// Telegram bot mentions look like /start@botname.
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "/start":
		g.handleStart(msg)
	case "/help":
		g.reply(msg, helpReply)
	default:
		log.Printf("[gateway] ignoring unknown command %s from %s", cmd, msg.SenderID)
	}
}

func (g *Gateway) handleStart(msg bus.InboundMessage) {
	firstName := metadataString(msg, "first_name")
	if firstName == "" {
		firstName = defaultFirstName
	}

	user, err := g.users.GetUser(msg.SenderID)
	if err != nil {
		log.Printf("[gateway] start: lookup user %s failed: %v", msg.SenderID, err)
		g.reply(msg, errorReply)
		return
	}
	if user == nil {
		if _, err := g.users.CreateUser(msg.SenderID, firstName, metadataString(msg, "username")); err != nil {
			log.Printf("[gateway] start: create user %s failed: %v", msg.SenderID, err)
			g.reply(msg, errorReply)
			return
		}
		log.Printf("[gateway] new user %s registered", msg.SenderID)
	}

	if err := g.users.IncrementSession(msg.SenderID); err != nil {
		log.Printf("[gateway] start: increment session for %s failed: %v", msg.SenderID, err)
	}

	g.reply(msg, fmt.Sprintf(welcomeTemplate, firstName))
}

func (g *Gateway) reply(msg bus.InboundMessage, content string) {
	g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	}
}

func (g *Gateway) responseDelay() time.Duration {
	minMs := int64(g.cfg.Bot.DelayMinSec) * 1000
	maxMs := int64(g.cfg.Bot.DelayMaxSec) * 1000
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+rand.Int63n(maxMs-minMs)) * time.Millisecond
}

// markBusy claims the per-user processing slot. Messages arriving while a
// reply is in flight get the busy notice instead of queueing up.
func (g *Gateway) markBusy(owner string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[owner] {
		return false
	}
	g.busy[owner] = true
	return true
}

func (g *Gateway) clearBusy(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, owner)
}

func metadataString(msg bus.InboundMessage, key string) string {
	if msg.Metadata == nil {
		return ""
	}
	if v, ok := msg.Metadata[key].(string); ok {
		return v
	}
	return ""
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.memEngine != nil {
		if err := g.memEngine.Close(); err != nil {
			log.Printf("[gateway] close memory engine warning: %v", err)
		}
	}
	if g.users != nil {
		if err := g.users.Close(); err != nil {
			log.Printf("[gateway] close user store warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
