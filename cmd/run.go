// cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/browser"
	"github.com/xanthous9/intentflow/internal/history"
	"github.com/xanthous9/intentflow/internal/intent"
	"github.com/xanthous9/intentflow/internal/llmclient"
	"github.com/xanthous9/intentflow/internal/observability"
	"github.com/xanthous9/intentflow/internal/orchestrator"
	"github.com/xanthous9/intentflow/internal/perception"
	"github.com/xanthous9/intentflow/internal/resolver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Strategy chain order. Lower priority runs first; cheap before expensive.
const (
	priorityHeuristic = 10
	priorityDOM       = 20
	priorityLLM       = 30
	priorityVision    = 40
)

var (
	runStartURL   string
	runTimeout    time.Duration
	runJSONOutput bool
)

var runCmd = &cobra.Command{
	Use:   "run \"<task>\"",
	Short: "Execute a natural-language task in the browser",
	Long: `Run analyzes the task, decomposes it into sub-intents, plans the
browser actions, and executes them. Example:

  intentflow run "go to news.ycombinator.com and search for golang"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd.Context(), args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runStartURL, "url", "", "page to open before executing the task")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "overall execution deadline")
	runCmd.Flags().BoolVar(&runJSONOutput, "json", false, "print the full execution result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runTask(parent context.Context, task string) error {
	task = strings.TrimSpace(task)
	if task == "" {
		return fmt.Errorf("task must not be empty")
	}

	logger := observability.GetLogger()

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, runTimeout)
	defer timeoutCancel()

	// -- Model clients. The engine degrades to pattern matching and the
	// non-LLM resolver strategies when no API key is configured.
	var llm schemas.LLMClient
	if cfg.LLM.Fast.APIKey != "" {
		client, err := llmclient.NewClient(ctx, cfg.LLM, logger)
		if err != nil {
			return fmt.Errorf("initialize LLM client: %w", err)
		}
		defer client.Close()
		llm = client
	} else {
		logger.Warn("No LLM API key configured; running with pattern matching only")
	}

	var vision schemas.VisionModel
	if cfg.Resolver.VisionEnabled && cfg.LLM.Powerful.APIKey != "" {
		v, err := llmclient.NewGeminiVision(ctx, cfg.LLM.Powerful, logger)
		if err != nil {
			return fmt.Errorf("initialize vision model: %w", err)
		}
		vision = v
	}

	// -- Metrics.
	metrics := observability.NewMetrics()
	if cfg.Metrics.Enabled {
		srv := metrics.Serve(cfg.Metrics.ListenAddr, logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// -- Browser.
	manager, err := browser.NewManager(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer manager.Close()

	page, err := manager.NewDriver(ctx)
	if err != nil {
		return fmt.Errorf("open browser tab: %w", err)
	}

	// -- Perception and resolution.
	provider := perception.NewDOMProvider(page, cfg.Resolver.MaxElements, logger)

	cache := resolver.NewCache(cfg.Resolver.CacheTTL, cfg.Resolver.CacheMaxEntries, logger)
	res := resolver.New(cache, metrics, logger)
	defer res.Close()

	res.RegisterStrategy(resolver.NewHeuristicStrategy(logger), priorityHeuristic)
	res.RegisterStrategy(resolver.NewDOMStrategy(provider, logger), priorityDOM)
	if cfg.Resolver.LLMEnabled && llm != nil {
		llmStrategy, err := resolver.NewLLMStrategy(
			llm, provider,
			cfg.Resolver.LLMRateLimit, cfg.Resolver.LLMRateBurst,
			cfg.Resolver.TokenBudget, cfg.Resolver.MaxElements,
			logger,
		)
		if err != nil {
			return fmt.Errorf("initialize LLM resolver strategy: %w", err)
		}
		res.RegisterStrategy(llmStrategy, priorityLLM)
	}
	if vision != nil {
		res.RegisterStrategy(resolver.NewVisionStrategy(vision, logger), priorityVision)
	}

	// -- Intent pipeline.
	analyzer := intent.NewAnalyzer(llm, logger)
	mapper := intent.NewMapper(logger)
	orch := orchestrator.New(res, mapper, metrics, cfg.Orchestrator, logger)

	// -- History (optional, best-effort).
	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Connect(ctx, cfg.History.DatabaseURL, logger)
		if err != nil {
			logger.Warn("History store unavailable; continuing without persistence", zap.Error(err))
		} else {
			defer store.Close()
			if err := store.EnsureSchema(ctx); err != nil {
				logger.Warn("History schema setup failed", zap.Error(err))
				store = nil
			}
		}
	}

	// -- Analyze and execute.
	contextData := map[string]any{}
	if runStartURL != "" {
		contextData["url"] = intent.EnsureScheme(runStartURL)
		if err := page.Navigate(ctx, contextData["url"].(string)); err != nil {
			return fmt.Errorf("open starting page: %w", err)
		}
	}

	in, err := analyzer.Analyze(ctx, task, contextData)
	if err != nil {
		return fmt.Errorf("analyze task: %w", err)
	}
	logger.Info("Intent analyzed",
		zap.String("intent_id", in.ID),
		zap.String("type", string(in.Type)),
		zap.Int("sub_intents", len(in.SubIntents)),
	)

	ectx := &orchestrator.ExecutionContext{
		Page:      page,
		Vision:    vision,
		Refresher: provider,
	}
	if snapshot, snapErr := provider.Snapshot(ctx); snapErr == nil {
		ectx.Perception = snapshot
	}

	result, execErr := orch.ExecuteIntent(ctx, in, ectx)

	if store != nil && result != nil {
		if saveErr := store.SaveResult(ctx, task, result); saveErr != nil {
			logger.Warn("Could not persist execution result", zap.Error(saveErr))
		}
	}

	if result != nil {
		printResult(result)
	}
	if execErr != nil {
		return execErr
	}
	if result != nil && !result.Success {
		return fmt.Errorf("task did not meet its success criteria: %s", result.FirstError())
	}
	return nil
}

func printResult(result *schemas.ExecutionResult) {
	if runJSONOutput {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not encode result: %v\n", err)
			return
		}
		fmt.Println(string(out))
		return
	}

	status := "SUCCESS"
	if !result.Success {
		status = "FAILED"
	}
	fmt.Printf("%s  intent=%s  actions=%d  duration=%s\n",
		status, result.IntentID, len(result.ActionsTaken), result.Duration.Round(time.Millisecond))
	for name, ok := range result.SubIntentResults {
		fmt.Printf("  sub-intent %-24s %v\n", name, ok)
	}
	for name, ok := range result.CriteriaMet {
		fmt.Printf("  criterion  %-24s %v\n", name, ok)
	}
	if msg := result.FirstError(); msg != "" {
		fmt.Printf("  error: %s\n", msg)
	}
}
