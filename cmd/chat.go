package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bookline-ai/bookline/internal/budget"
	"github.com/bookline-ai/bookline/internal/config"
	"github.com/bookline-ai/bookline/internal/dialog"
	"github.com/bookline-ai/bookline/internal/nlu"
	"github.com/bookline-ai/bookline/internal/provider"
	"github.com/bookline-ai/bookline/internal/session"
)

// buildDriver wires a conversation driver from config: provider-backed
// understanding, SQLite memory, event log, and cost tracking. The returned
// cleanup closes everything the driver opened.
func buildDriver(cfg *config.Config, p provider.Provider) (*dialog.Driver, *dialog.CostTracker, func(), error) {
	model := cfg.Model
	if model == "" {
		model = p.DefaultModel()
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var memory session.MemoryStore = session.NullMemoryStore{}
	if !cfg.Memory.Disabled {
		dbPath := cfg.Memory.DBPath
		if dbPath == "" {
			dbPath = session.DefaultDBPath()
		}
		db, err := session.NewDB(dbPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open database: %w", err)
		}
		cleanups = append(cleanups, func() { db.Close() })

		memory, err = session.NewSQLiteMemoryStore(db)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("open memory store: %w", err)
		}
	}

	costs := dialog.NewCostTracker(nil)
	driver := dialog.NewDriver(dialog.Options{
		Understander: &nlu.LLM{Provider: p, Model: model},
		Summarizer:   &session.LLMSummarizer{Provider: p, Model: model},
		Memory:       memory,
		Costs:        costs,
		Budget:       tokenBudget(cfg),
		MaxSnapshots: cfg.Budget.MaxSnapshots,
		Required:     cfg.Booking.RequiredFields,
		SystemPrompt: cfg.SystemPrompt,
		UserID:       userFlag,
		Model:        model,
	})

	// The event log is per conversation, so it is attached after the
	// driver mints the conversation ID.
	if events, err := dialog.NewEventLogger(driver.ConversationID()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: event log disabled: %v\n", err)
	} else {
		driver.SetEvents(events)
		cleanups = append(cleanups, events.Close)
	}

	return driver, costs, cleanup, nil
}

func tokenBudget(cfg *config.Config) budget.TokenBudget {
	return budget.TokenBudget{
		Total:             cfg.Budget.Total,
		SystemReserve:     cfg.Budget.SystemReserve,
		GenerationReserve: cfg.Budget.GenerationReserve,
		ContextBudget:     cfg.Budget.ContextBudget,
		ReservedBuffer:    cfg.Budget.ReservedBuffer,
	}
}

// runChat starts the interactive chat (REPL) mode.
func runChat() error {
	cfg := initConfig()

	p, err := buildProvider(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Model == "" {
		cfg.Model = p.DefaultModel()
	}

	driver, costs, cleanup, err := buildDriver(cfg, p)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Printf("bookline v%s  %s/%s  (conversation %s)\n",
		appVersion, cfg.Provider, cfg.Model, driver.ConversationID()[:8])
	fmt.Println("Type /quit to exit, /status for collected details.")
	fmt.Println()
	fmt.Println("assistant> " + driver.Greeting())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nyou> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if handled, quit := handleCommand(driver, costs, input); handled {
			if quit {
				break
			}
			continue
		}

		result, err := driver.ProcessTurn(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println("\nassistant> " + result.Reply)

		if result.Done {
			if result.Request != nil {
				if data, err := result.Request.Encode(); err == nil {
					fmt.Println("\nService request:")
					fmt.Println(string(data))
				}
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if costs.TotalCost() > 0 {
		fmt.Println("\n" + costs.Summary())
	}
	return nil
}

// handleCommand processes slash commands; returns (handled, quit).
func handleCommand(driver *dialog.Driver, costs *dialog.CostTracker, input string) (bool, bool) {
	switch input {
	case "/quit", "/exit", "quit", "exit":
		return true, true
	case "/status":
		fmt.Printf("Stage: %s\n%s\n", driver.Stage(), driver.Scratchpad().Summary())
		return true, false
	case "/cost":
		fmt.Println(costs.Summary())
		return true, false
	case "/clear":
		driver.ClearHistory()
		fmt.Println("History cleared. Collected booking details are kept.")
		return true, false
	case "/events":
		el := driver.Events()
		if el == nil {
			fmt.Println("Event log disabled.")
			return true, false
		}
		events, err := el.ReadRecent(20)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read events: %v\n", err)
			return true, false
		}
		fmt.Println(dialog.FormatEvents(events, "Recent events"))
		return true, false
	}
	if strings.HasPrefix(input, "/") {
		fmt.Println("Commands: /status /cost /events /clear /quit")
		return true, false
	}
	return false, false
}
