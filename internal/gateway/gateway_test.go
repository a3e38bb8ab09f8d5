package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hamdamlab/hamdam/internal/bus"
	"github.com/hamdamlab/hamdam/internal/config"
	"github.com/hamdamlab/hamdam/internal/cron"
	"github.com/hamdamlab/hamdam/internal/personality"
	"github.com/hamdamlab/hamdam/internal/provider"
)

// longCalm dodges every follow-up trigger in the pipeline so the fake
// client's reply comes straight back out.
const longCalm = "امروز رفتم پیاده‌روی کنار رودخانه و بعدش با دوستان قدیمی دانشگاه قهوه خوردیم و کلی گپ زدیم و خندیدیم"

type fakeClient struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeClient) GenerateReply(ctx context.Context, req provider.ReplyRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, f.err
}

func (f *fakeClient) AnalyzeTraits(ctx context.Context, conversation string) (personality.Analysis, error) {
	return personality.Analysis{}, f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg := config.DefaultConfig()
	cfg.Memory.DBPath = filepath.Join(tmpDir, "memory.db")
	cfg.Store.DBPath = filepath.Join(tmpDir, "hamdam.db")
	return cfg
}

func newTestGateway(t *testing.T, client *fakeClient) *Gateway {
	t.Helper()
	g, err := NewWithOptions(testConfig(t), Options{
		Client: client,
		Sleep:  func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	t.Cleanup(func() { g.Shutdown() })
	return g
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "telegram",
		SenderID: "user1",
		ChatID:   "chat1",
		Content:  content,
		Metadata: map[string]any{"first_name": "سارا", "username": "sara_t"},
	}
}

func awaitOutbound(t *testing.T, g *Gateway) bus.OutboundMessage {
	t.Helper()
	select {
	case msg := <-g.bus.Outbound:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbound message")
		return bus.OutboundMessage{}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestGateway_StartCommand(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	g.handleInbound(context.Background(), inbound("/start"))

	msg := awaitOutbound(t, g)
	if !strings.HasPrefix(msg.Content, "سلام سارا! 👋") {
		t.Errorf("welcome should greet by name, got %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "چطور احساس می‌کنید؟") {
		t.Errorf("welcome missing opening question: %q", msg.Content)
	}

	user, err := g.users.GetUser("user1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil {
		t.Fatal("user should be registered after /start")
	}
	if user.FirstName != "سارا" {
		t.Errorf("first name = %q, want سارا", user.FirstName)
	}
	if user.SessionCount != 1 {
		t.Errorf("session count = %d, want 1", user.SessionCount)
	}
}

func TestGateway_StartCommand_SecondSessionIncrements(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	g.handleInbound(context.Background(), inbound("/start"))
	<-g.bus.Outbound
	g.handleInbound(context.Background(), inbound("/start"))
	<-g.bus.Outbound

	user, _ := g.users.GetUser("user1")
	if user == nil {
		t.Fatal("user should exist")
	}
	if user.SessionCount != 2 {
		t.Errorf("session count = %d, want 2", user.SessionCount)
	}
}

func TestGateway_StartCommand_BotMention(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	g.handleInbound(context.Background(), inbound("/start@hamdam_bot"))

	msg := awaitOutbound(t, g)
	if !strings.HasPrefix(msg.Content, "سلام سارا!") {
		t.Errorf("mention-style /start should still greet, got %q", msg.Content)
	}
}

func TestGateway_HelpCommand(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	g.handleInbound(context.Background(), inbound("/help"))

	msg := awaitOutbound(t, g)
	if msg.Content != helpReply {
		t.Errorf("help reply = %q", msg.Content)
	}
}

func TestGateway_UnknownCommandIgnored(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	g.handleInbound(context.Background(), inbound("/settings"))

	select {
	case msg := <-g.bus.Outbound:
		t.Errorf("unknown command should be ignored, got %q", msg.Content)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGateway_MessageBeforeStart(t *testing.T) {
	g := newTestGateway(t, &fakeClient{reply: "نباید برسه"})

	g.handleInbound(context.Background(), inbound("سلام"))

	msg := awaitOutbound(t, g)
	if msg.Content != startRequiredReply {
		t.Errorf("reply = %q, want start prompt", msg.Content)
	}
}

func TestGateway_MessageFlow(t *testing.T) {
	client := &fakeClient{reply: "چه روز خوبی داشتید! از پیاده‌روی لذت بردید"}
	g := newTestGateway(t, client)

	g.handleInbound(context.Background(), inbound("/start"))
	<-g.bus.Outbound

	done := make(chan struct{})
	go func() {
		g.handleInbound(context.Background(), inbound(longCalm))
		close(done)
	}()

	typing := awaitOutbound(t, g)
	if !typing.Typing {
		t.Errorf("first outbound should be a typing indicator, got %+v", typing)
	}

	reply := awaitOutbound(t, g)
	if reply.Typing {
		t.Error("reply should not be a typing indicator")
	}
	if reply.Content != client.reply {
		t.Errorf("reply = %q, want model reply", reply.Content)
	}
	if reply.ChatID != "chat1" || reply.Channel != "telegram" {
		t.Errorf("reply routing = %s/%s", reply.Channel, reply.ChatID)
	}
	<-done
}

func TestGateway_MessageFlow_ModelErrorFallsBack(t *testing.T) {
	client := &fakeClient{err: context.DeadlineExceeded}
	g := newTestGateway(t, client)

	g.handleInbound(context.Background(), inbound("/start"))
	<-g.bus.Outbound

	done := make(chan struct{})
	go func() {
		g.handleInbound(context.Background(), inbound(longCalm))
		close(done)
	}()

	<-g.bus.Outbound // typing
	reply := awaitOutbound(t, g)
	if reply.Content != "گوش می‌دم... ادامه بدید." {
		t.Errorf("expected fallback reply, got %q", reply.Content)
	}
	<-done
}

func TestGateway_ProcessLoop_BusyGuard(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	if !g.markBusy("user1") {
		t.Fatal("first markBusy should succeed")
	}
	if g.markBusy("user1") {
		t.Error("second markBusy should fail while busy")
	}
	if !g.markBusy("user2") {
		t.Error("other users should not be blocked")
	}
	g.clearBusy("user1")
	if !g.markBusy("user1") {
		t.Error("markBusy should succeed after clearBusy")
	}
}

func TestGateway_ProcessLoop_BusyReply(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.processLoop(ctx)

	g.markBusy("user1")
	g.bus.Inbound <- inbound("سلام")

	msg := awaitOutbound(t, g)
	if msg.Content != busyReply {
		t.Errorf("reply = %q, want busy notice", msg.Content)
	}
}

func TestGateway_ProcessLoop_ContextCancelled(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		g.processLoop(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("processLoop did not exit after context cancel")
	}
}

func TestGateway_RunJob_MemoryPurge(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	job := cron.CronJob{Payload: cron.Payload{Task: taskMemoryPurge}}
	result, err := g.runJob(job)
	if err != nil {
		t.Fatalf("runJob error: %v", err)
	}
	if !strings.Contains(result, "purged") {
		t.Errorf("result = %q, want purge summary", result)
	}
}

func TestGateway_RunJob_CacheSweep(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	job := cron.CronJob{Payload: cron.Payload{Task: taskCacheSweep}}
	result, err := g.runJob(job)
	if err != nil {
		t.Fatalf("runJob error: %v", err)
	}
	if !strings.Contains(result, "swept") {
		t.Errorf("result = %q, want sweep summary", result)
	}
}

func TestGateway_RunJob_UnknownTask(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	_, err := g.runJob(cron.CronJob{Payload: cron.Payload{Task: "nope"}})
	if err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestGateway_EnsureMaintenanceJobs(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})

	if err := g.ensureMaintenanceJobs(); err != nil {
		t.Fatalf("ensureMaintenanceJobs error: %v", err)
	}
	if got := len(g.cron.ListJobs()); got != 2 {
		t.Fatalf("expected 2 maintenance jobs, got %d", got)
	}

	// Idempotent across restarts
	if err := g.ensureMaintenanceJobs(); err != nil {
		t.Fatalf("ensureMaintenanceJobs error: %v", err)
	}
	if got := len(g.cron.ListJobs()); got != 2 {
		t.Errorf("expected 2 maintenance jobs after re-run, got %d", got)
	}
}

func TestGateway_ResponseDelayBounds(t *testing.T) {
	g := newTestGateway(t, &fakeClient{})
	g.cfg.Bot.DelayMinSec = 1
	g.cfg.Bot.DelayMaxSec = 3

	for i := 0; i < 50; i++ {
		d := g.responseDelay()
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("delay %v outside [1s, 3s]", d)
		}
	}

	g.cfg.Bot.DelayMaxSec = 1
	if d := g.responseDelay(); d != time.Second {
		t.Errorf("degenerate range should return min, got %v", d)
	}
}

func TestGateway_Run_WithSignalChan(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(testConfig(t), Options{
		Client:     &fakeClient{},
		SignalChan: sigCh,
		Sleep:      func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background())
	}()

	// Give it time to start
	time.Sleep(50 * time.Millisecond)

	sigCh <- os.Interrupt

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not exit after signal")
	}
}

func TestGateway_Shutdown(t *testing.T) {
	g, err := NewWithOptions(testConfig(t), Options{
		Client: &fakeClient{},
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	if err := g.Shutdown(); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}

func TestMetadataString(t *testing.T) {
	msg := bus.InboundMessage{Metadata: map[string]any{"first_name": "رضا", "message_id": 12}}
	if got := metadataString(msg, "first_name"); got != "رضا" {
		t.Errorf("first_name = %q", got)
	}
	if got := metadataString(msg, "message_id"); got != "" {
		t.Errorf("non-string value should yield empty, got %q", got)
	}
	if got := metadataString(bus.InboundMessage{}, "first_name"); got != "" {
		t.Errorf("nil metadata should yield empty, got %q", got)
	}
}
