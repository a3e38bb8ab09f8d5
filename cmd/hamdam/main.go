package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamdamlab/hamdam/internal/config"
	"github.com/hamdamlab/hamdam/internal/gateway"
	"github.com/hamdamlab/hamdam/internal/memory"
	"github.com/hamdamlab/hamdam/internal/pipeline"
	"github.com/hamdamlab/hamdam/internal/provider"
	"github.com/hamdamlab/hamdam/internal/store"
)

// ChatOptions for running the chat REPL with injectable dependencies
type ChatOptions struct {
	Client pipeline.CompletionClient
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "hamdam",
	Short: "hamdam - Persian therapy companion bot",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the companion from the terminal",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the Telegram gateway (channels + cron)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hamdam status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(chatCmd, gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runChat is the command handler that uses default options
func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs the chat loop with injectable dependencies for testing
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := opts.Client
	if client == nil {
		if cfg.Provider.APIKey == "" {
			return fmt.Errorf("API key not set. Run 'hamdam onboard' or set HAMDAM_API_KEY / OPENROUTER_API_KEY")
		}
		client = provider.New(cfg.Provider)
	}

	memPath := cfg.Memory.DBPath
	if memPath == "" {
		memPath = filepath.Join(config.DataDir(), "memory.db")
	}
	engine, err := memory.NewEngine(memPath)
	if err != nil {
		return fmt.Errorf("open memory engine: %w", err)
	}
	defer engine.Close()

	storePath := cfg.Store.DBPath
	if storePath == "" {
		storePath = filepath.Join(config.DataDir(), "hamdam.db")
	}
	users, err := store.NewStore(storePath)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer users.Close()

	// The terminal doesn't need the typing-simulation pauses.
	pipe := pipeline.New(pipeline.Options{
		Client: client,
		Memory: memory.NewStore(engine, memoryOptions(cfg.Memory)),
		Users:  users,
		Sleep:  func(time.Duration) {},
	})

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		res, err := pipe.Handle(ctx, "cli", "کاربر", messageFlag)
		if err != nil {
			return fmt.Errorf("chat error: %w", err)
		}
		fmt.Fprintln(stdout, res.Reply)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "hamdam chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		res, err := pipe.Handle(ctx, "cli", "کاربر", input)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, res.Reply)
	}
	return nil
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

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'hamdam onboard' or set HAMDAM_API_KEY / OPENROUTER_API_KEY")
	}
	if !cfg.Channels.Telegram.Enabled {
		return fmt.Errorf("telegram channel disabled. Enable it in %s and set a bot token", config.ConfigPath())
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Printf("Data directory ready: %s\n", config.DataDir())

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your OpenRouter API key and Telegram token\n", cfgPath)
	fmt.Println("  2. Or set HAMDAM_API_KEY and HAMDAM_TELEGRAM_TOKEN environment variables")
	fmt.Println("  3. Run 'hamdam chat -m \"سلام\"' to test, then 'hamdam gateway' to go live")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	fmt.Printf("Base URL: %s\n", cfg.Provider.BaseURL)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)

	memPath := cfg.Memory.DBPath
	if memPath == "" {
		memPath = filepath.Join(config.DataDir(), "memory.db")
	}
	if _, err := os.Stat(memPath); err != nil {
		fmt.Println("Memory: empty (run 'hamdam onboard')")
		return nil
	}

	engine, err := memory.NewEngine(memPath)
	if err != nil {
		fmt.Printf("Memory: error (%v)\n", err)
		return nil
	}
	defer engine.Close()

	owners, err := engine.Owners()
	if err != nil {
		fmt.Printf("Memory: error (%v)\n", err)
		return nil
	}

	var shortTerm, longTerm int
	for _, owner := range owners {
		stats, err := engine.Stats(owner)
		if err != nil {
			continue
		}
		shortTerm += stats.ShortTerm
		longTerm += stats.LongTerm
	}
	fmt.Printf("Memory: %d short-term / %d long-term across %d users\n", shortTerm, longTerm, len(owners))

	return nil
}
