package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/querypilot/internal/config"
	"github.com/stellarlinkco/querypilot/internal/gateway"
	"github.com/stellarlinkco/querypilot/internal/llm"
	"github.com/stellarlinkco/querypilot/internal/metrics"
	"github.com/stellarlinkco/querypilot/internal/pipeline"
	"github.com/stellarlinkco/querypilot/internal/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "querypilot",
		Short: "Query understanding and session memory engine",
	}
	rootCmd.AddCommand(serveCmd(), chatCmd(), statusCmd(), onboardCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			orch, store, m, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			gw := gateway.New(cfg.Gateway, cfg.Retention, orch, store, m)
			return gw.Run(ctx)
		},
	}
}

func chatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against the local pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			orch, store, _, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			fmt.Printf("session %s, ctrl-d to exit\n", sessionID)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				query := strings.TrimSpace(scanner.Text())
				if query == "" {
					continue
				}

				result, err := orch.Process(cmd.Context(), sessionID, query, nil)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				if len(result.ClarifyingQuestions) > 0 {
					for _, q := range result.ClarifyingQuestions {
						fmt.Println(q)
					}
					continue
				}
				fmt.Println(result.Answer)
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue (default: new session)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show usage stats of a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			url := fmt.Sprintf("http://127.0.0.1:%d/v1/stats", cfg.Gateway.Port)

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("gateway not reachable at %s: %w", url, err)
			}
			defer resp.Body.Close()

			var stats struct {
				Usage    pipeline.UsageStats `json:"usage"`
				Sessions int                 `json:"sessions"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				return fmt.Errorf("decode stats: %w", err)
			}

			fmt.Printf("sessions:         %d\n", stats.Sessions)
			fmt.Printf("queries:          %d\n", stats.Usage.TotalQueries)
			fmt.Printf("heavy calls:      %d\n", stats.Usage.HeavyCalls)
			fmt.Printf("escalation rate:  %.1f%%\n", stats.Usage.UsagePercentage)
			return nil
		},
	}
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("config already exists at %s\n", path)
				return nil
			}
			if err := config.SaveConfig(config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			fmt.Println("set provider.baseUrl and provider.model, then run: querypilot serve")
			return nil
		},
	}
}

// buildEngine wires the store, model clients and orchestrator from config.
func buildEngine(cfg *config.Config) (*pipeline.Orchestrator, session.Store, *metrics.Metrics, error) {
	store, err := session.NewStore(cfg.Store)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	var heavy llm.TextCompleter = llm.NewClient(cfg.Provider)
	if cfg.Fallback != nil && cfg.Fallback.BaseURL != "" {
		heavy = llm.NewFailover(heavy, llm.NewClient(*cfg.Fallback))
	}
	var light llm.TextCompleter
	if cfg.Lightweight != nil && cfg.Lightweight.BaseURL != "" {
		light = llm.NewClient(*cfg.Lightweight)
	}
	embedder := llm.NewEmbedder(cfg.Embedding)
	if embedder == nil && cfg.Embedding.Enabled {
		log.Printf("[main] embedding enabled but not configured, using lexical similarity")
	}

	m := metrics.New()
	orch := pipeline.New(cfg.Pipeline, store, heavy, light, embedder, m)
	return orch, store, m, nil
}
