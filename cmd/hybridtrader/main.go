// Command hybridtrader is the CLI surface: a REPL over stdin that
// wires the Spec store, fast execution engine, backtest engine, and
// orchestrator together. The cooperative `for { select {...} }` shape of
// the orchestrator's refresh loop is started here the same way as the
// rest of the module's background tasks: logged startup banner,
// ticker-driven background task, graceful shutdown on stop.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hybridtrader/api"
	"hybridtrader/engine"
	"hybridtrader/fetch"
	"hybridtrader/logging"
	"hybridtrader/orchestrator"
	"hybridtrader/spec"
	"hybridtrader/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// manualProducer implements orchestrator.SpecProducer by returning
// whichever Spec is currently marked active in the store for a ticker.
// The refresh loop's Spec Producer call degrades to "pick up whatever
// an operator most recently activated" when no LLM planner (an
// explicit out-of-scope collaborator) is wired in.
type manualProducer struct {
	store *store.SpecStore
}

func (p *manualProducer) CompileStrategy(ctx context.Context, ticker string) (*spec.Strategy, error) {
	st, err := p.store.GetActive(ticker)
	if err != nil {
		return nil, fmt.Errorf("no active spec for %s: %w", ticker, err)
	}
	return st, nil
}

func main() {
	// Missing .env is non-fatal, matching the corpus's common
	// `_ = godotenv.Load()` convention.
	_ = godotenv.Load()

	dbPath := envOr("HYBRIDTRADER_DB", "hybridtrader.db")
	specStore, err := store.Open(dbPath)
	if err != nil {
		logging.Errorf("failed to open spec store: %v", err)
		os.Exit(1)
	}
	defer specStore.Close()

	eng := engine.New(100000)
	eng.SetMaxLatencyMS(1.0)

	producer := &manualProducer{store: specStore}
	orc := orchestrator.New(eng, producer, orchestrator.DefaultGateConfig())
	orc.SetRiskParamsLookup(func(ticker string) *spec.RiskParameters {
		st, err := specStore.GetActive(ticker)
		if err != nil {
			return nil
		}
		return &st.RiskParams
	})

	fetchClient := fetch.NewClient()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refreshInterval := 5 * time.Minute
	orc.StartRefreshLoop(ctx, refreshInterval)
	defer orc.StopRefreshLoop()

	addr := envOr("HYBRIDTRADER_ADDR", ":8080")
	router := gin.Default()
	srv := api.NewServer(orc, specStore, fetchClient)
	srv.Register(router)
	go func() {
		if err := router.Run(addr); err != nil {
			logging.Errorf("http server stopped: %v", err)
		}
	}()

	logging.Infof("hybridtrader listening on %s, db=%s, refresh every %v", addr, dbPath, refreshInterval)
	runREPL(ctx, orc)
}

// runREPL is the interactive command loop: free-text queries run the
// default research flow, /hybrid forces research -> backtest ->
// paper-trade, /model switches provider (a no-op placeholder here since
// the LLM planner itself is an out-of-scope collaborator), exit/quit end
// the session cleanly.
func runREPL(ctx context.Context, orc *orchestrator.Orchestrator) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("hybridtrader ready. Type a query, /hybrid <query>, /model, or exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "exit" || line == "quit":
			logging.Info("shutting down")
			return
		case line == "/model":
			fmt.Println("model switching is handled by the external Spec Producer, not this CLI")
		case strings.HasPrefix(line, "/hybrid "):
			query := strings.TrimPrefix(line, "/hybrid ")
			handleHybridFlow(ctx, orc, query)
		default:
			if isHybridTrigger(line) {
				handleHybridFlow(ctx, orc, line)
				continue
			}
			fmt.Println("research flow: no Spec Producer wired to the CLI in this build; use POST /specs")
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Errorf("repl input error: %v", err)
		os.Exit(1)
	}
}

var hybridTriggerWords = []string{
	"backtest", "paper", "replay", "gate", "maxdailyloss", "consecutive", "strategy spec",
}

// isHybridTrigger detects queries that imply the hybrid research ->
// backtest -> paper-trade flow even without an explicit /hybrid prefix.
func isHybridTrigger(query string) bool {
	lower := strings.ToLower(query)
	for _, w := range hybridTriggerWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func handleHybridFlow(ctx context.Context, orc *orchestrator.Orchestrator, query string) {
	fmt.Printf("hybrid flow requested for %q; wire a Spec Producer and call POST /backtests/:id to run it\n", query)
	_ = ctx
	_ = orc
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
