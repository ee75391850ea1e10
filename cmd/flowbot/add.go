package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/avetra/flowbot/internal/actions"
	"github.com/avetra/flowbot/internal/engine"
	"github.com/avetra/flowbot/internal/market"
	"github.com/avetra/flowbot/internal/notify"
	"github.com/avetra/flowbot/internal/store"
	"github.com/avetra/flowbot/internal/validation"
	"github.com/avetra/flowbot/pkg/schema"
)

// runAdd validates a workflow definition from a JSON file and stores it.
func runAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	file := fs.String("file", "", "path to the workflow JSON file")
	paused := fs.Bool("paused", false, "store the workflow paused instead of active")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read %s: %v\n", *file, err)
		os.Exit(1)
	}

	wf := &store.Workflow{}
	if err := json.Unmarshal(data, wf); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed workflow JSON: %v\n", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	if wf.ID == "" {
		wf.ID = "wf_" + uuid.NewString()[:10]
	}
	wf.Status = schema.WorkflowActive
	if *paused {
		wf.Status = schema.WorkflowPaused
	}
	wf.RunCount = 0
	wf.LastRunAt = nil
	wf.CreatedAt = now
	wf.UpdatedAt = now

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	registry := builtinRegistry()
	if err := validator.Validate(wf, registry.Has); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid workflow: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := st.CreateWorkflow(ctx, wf); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("workflow %s stored (%s, %d steps, trigger %s)\n",
		wf.ID, wf.Status, len(wf.Steps), wf.TriggerType)
}

// runRemind schedules a one-shot or recurring message.
func runRemind(args []string) {
	fs := flag.NewFlagSet("remind", flag.ExitOnError)
	owner := fs.String("owner", "", "owner to deliver the message to")
	message := fs.String("message", "", "message text")
	at := fs.String("at", "", "first delivery time, RFC 3339 (default: now)")
	every := fs.Int("every", 0, "repeat interval in minutes (0 = one-shot)")
	cronExpr := fs.String("cron", "", "cron expression for recurring delivery")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *owner == "" || *message == "" {
		fmt.Fprintln(os.Stderr, "Error: -owner and -message are required")
		os.Exit(1)
	}

	now := time.Now().UTC()
	runAt := now
	if *at != "" {
		parsed, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: bad -at value: %v\n", err)
			os.Exit(1)
		}
		runAt = parsed.UTC()
	}

	msg := &store.ScheduledMessage{
		ID:                "msg_" + uuid.NewString()[:10],
		OwnerID:           *owner,
		Message:           *message,
		CronExpr:          *cronExpr,
		RunAt:             &runAt,
		Repeat:            *every > 0 || *cronExpr != "",
		RepeatIntervalMin: *every,
		Status:            store.MessageActive,
		CreatedAt:         now,
	}

	cfg := loadConfig()
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := st.CreateScheduledMessage(ctx, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	kind := "one-shot"
	if msg.Repeat {
		kind = "recurring"
	}
	fmt.Printf("%s message %s scheduled for %s\n", kind, msg.ID, runAt.Format(time.RFC3339))
}

// builtinRegistry mirrors the daemon's handler set so step types are checked
// against what will actually execute.
func builtinRegistry() *actions.Registry {
	notifier := notify.NewLogNotifier(newLogger("error"))
	registry, err := newRegistry(notifier, market.NewHTTPQuoteSource(""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return registry
}

// newRegistry builds the builtin handler set.
func newRegistry(notifier notify.Notifier, quotes market.QuoteSource) (*actions.Registry, error) {
	registry := actions.NewRegistry()
	handlers := []actions.Handler{
		actions.NewSendMessageHandler(notifier),
		actions.NewDelayHandler(),
		actions.NewConditionHandler(engine.NewExprCondition()),
		actions.NewHTTPRequestHandler(actions.HTTPConfig{}),
		actions.NewTransformHandler(),
		actions.NewStockLookupHandler(quotes),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
