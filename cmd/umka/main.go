// Umka bot entry point: wires storage, models and the Telegram surface.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/umka-bot/umka/dialog"
	"github.com/umka-bot/umka/generate"
	"github.com/umka-bot/umka/pkg/config"
	"github.com/umka-bot/umka/pkg/kv"
	"github.com/umka-bot/umka/pkg/kvhealth"
	"github.com/umka-bot/umka/prompt"
	"github.com/umka-bot/umka/session"
	"github.com/umka-bot/umka/telegram"
	"github.com/umka-bot/umka/usage"
)

func main() {
	log.Println("Starting Umka bot...")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	bot := telegram.NewBot(cfg.BotToken, cfg.AdminChatID)

	// Storage: Redis when reachable, in-process fallback otherwise. The
	// bot doubles as the degradation notifier for the operator chat.
	fallback, err := kv.NewMem()
	if err != nil {
		log.Fatalf("Fallback store error: %v", err)
	}
	defer fallback.Close()

	redial := func() (kv.Backend, error) {
		r := kv.NewRedis(cfg.RedisAddr, cfg.RedisDB)
		if err := r.Ping(); err != nil {
			r.Close()
			return nil, err
		}
		return r, nil
	}

	var remote kv.Backend
	if r, err := redial(); err != nil {
		log.Printf("[KV] Redis unavailable at startup, running on fallback: %v", err)
	} else {
		remote = r
	}

	facade := kv.NewFacade(remote, fallback, kv.NewHealth(), bot)
	monitor := kvhealth.New(facade, cfg.HealthInterval, redial)

	sessions, err := session.New(facade, session.Config{
		MaxTurns:  cfg.HistoryMaxTurns,
		TTL:       cfg.HistoryTTL,
		CacheSize: cfg.CacheSize,
	})
	if err != nil {
		log.Fatalf("Session store error: %v", err)
	}

	pack := prompt.DefaultPack()
	if cfg.PromptPackPath != "" {
		if pack, err = prompt.LoadPack(cfg.PromptPackPath); err != nil {
			log.Printf("[Prompt] Pack load failed, using defaults: %v", err)
		}
	}
	builder := prompt.NewBuilder(pack, cfg.TokenBudget, cfg.HistoryMaxTurns)

	backend := generate.NewOpenAI(generate.OpenAIConfig{
		APIKey:       cfg.OpenAIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		StallTimeout: cfg.StallTimeout,
		Retries:      cfg.GenerateRetries,
	})

	orch := dialog.New(sessions, builder, backend, bot, dialog.Config{
		EditInterval: cfg.EditInterval,
		MinFirstEdit: cfg.MinFirstEdit,
	})
	if cfg.GeminiKey != "" {
		orch.SetFallback(generate.NewGemini(generate.GeminiConfig{
			APIKey: cfg.GeminiKey,
			Model:  cfg.GeminiModel,
		}))
	}

	tracker, err := usage.Open(cfg.UsageDBPath)
	if err != nil {
		log.Printf("[Usage] Tracker disabled: %v", err)
	} else {
		defer tracker.Close()
		orch.SetTracker(tracker)
		bot.SetTracker(tracker)
	}

	bot.SetHandler(orch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := monitor.Start(ctx); err != nil {
		log.Printf("[Health] Monitor start failed: %v", err)
	}
	defer monitor.Stop()

	go bot.Start()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c
	log.Println("Shutting down...")
	bot.Stop()
	if r := facade.Remote(); r != nil {
		r.Close()
	}
}
