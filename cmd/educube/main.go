// educube is a stateless multi-persona study assistant service. It
// routes each learner request to one or more reasoning personas and
// assembles their replies into a single answer; all conversational
// context travels with the request.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"educube/internal/collab"
	"educube/internal/config"
	"educube/internal/llm"
	"educube/internal/logging"
	"educube/internal/persona"
	"educube/internal/router"
	"educube/internal/server"
	"educube/internal/types"
)

var (
	configPath string

	// ask flags
	askPersona     string
	askCollaborate bool
	askParallel    bool
	askRounds      int
	askSubject     string
)

var rootCmd = &cobra.Command{
	Use:   "educube",
	Short: "EduCube - multi-persona AI study assistant",
	Long: `EduCube routes each learner request to a specialized reasoning persona
(an expert, a teaching assistant, or a peer-level study companion) or
convenes all three in collaboration mode, then assembles their replies
into one answer.

The service keeps no state between calls: conversation history travels
with every request.

Run without arguments to start the HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-shot question from the command line",
	Long: `Sends one question through the full routing and collaboration
pipeline and prints the assembled answer.

Examples:
  educube ask "What is a derivative?"
  educube ask --persona peer "How do you stay motivated?"
  educube ask --collaborate --parallel "Explain recursion"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the configured personas",
	RunE:  runPersonas,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("educube %s\n", server.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to configuration file")

	askCmd.Flags().StringVarP(&askPersona, "persona", "p", "", "send directly to a persona (expert, assistant, peer)")
	askCmd.Flags().BoolVar(&askCollaborate, "collaborate", false, "convene all personas")
	askCmd.Flags().BoolVar(&askParallel, "parallel", false, "fan personas out in parallel (collaborate mode)")
	askCmd.Flags().IntVar(&askRounds, "rounds", 1, "collaboration rounds")
	askCmd.Flags().StringVar(&askSubject, "subject", "", "subject hint forwarded to the personas")

	rootCmd.AddCommand(serveCmd, askCmd, personasCmd, versionCmd)
}

// bootstrap loads configuration and builds the core object graph.
// Configuration problems are the only fatal startup errors.
func bootstrap() (*config.Config, *persona.Registry, *collab.Orchestrator, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := logging.Init(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON}); err != nil {
		return nil, nil, nil, err
	}

	registry, err := persona.NewRegistry(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	client := llm.NewMoonshotClientFromConfig(cfg)
	rt := router.New(client, registry)
	pipeline := collab.NewPipeline(client, registry, cfg.Collaboration.MaxRounds)
	orch := collab.NewOrchestrator(rt, pipeline, cfg.Collaboration)

	return cfg, registry, orch, nil
}

func runServe() error {
	cfg, registry, orch, err := bootstrap()
	if err != nil {
		return err
	}
	defer logging.Sync()

	log := logging.Named("main")
	engine := server.New(cfg.Server, orch, registry)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	_, _, orch, err := bootstrap()
	if err != nil {
		return err
	}
	defer logging.Sync()

	question := ""
	for i, a := range args {
		if i > 0 {
			question += " "
		}
		question += a
	}

	req := types.Request{
		Message: question,
		Mode:    types.ModeDirect,
		Subject: askSubject,
		Rounds:  askRounds,
	}
	if askPersona != "" {
		req.Override = types.PersonaID(askPersona)
	}
	if askCollaborate {
		req.Mode = types.ModeCollaborate
		if askParallel {
			req.Strategy = types.StrategyParallel
		}
	}

	result, err := orch.Handle(context.Background(), req)
	if err != nil {
		return err
	}

	if result.Status == types.StatusFailed {
		fmt.Fprintln(os.Stderr, "all personas failed:")
		for _, f := range result.Failures {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", f.Persona, f.Kind)
		}
		return fmt.Errorf("no answer produced")
	}

	fmt.Println(result.Answer)
	if result.Status == types.StatusDegraded {
		fmt.Fprintln(os.Stderr, "\n(partial answer; some personas failed)")
		for _, f := range result.Failures {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", f.Persona, f.Kind)
		}
	}
	return nil
}

func runPersonas(cmd *cobra.Command, args []string) error {
	cfg, registry, _, err := bootstrap()
	if err != nil {
		return err
	}
	defer logging.Sync()

	fmt.Printf("Personas (default model %s):\n", cfg.LLM.Model)
	for _, id := range registry.IDs() {
		p, err := registry.Get(id)
		if err != nil {
			continue
		}
		fmt.Printf("  %-10s %-20s model=%s temperature=%.1f max_tokens=%d\n",
			p.ID, p.DisplayName, p.Model, p.Temperature, p.MaxTokens)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
