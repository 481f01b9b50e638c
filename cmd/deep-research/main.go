package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/types"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

var (
	topic     string
	feedback  string
	depth     int
	historyDB string
	outputDir string
	resources []string
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long:  `deep-research asks clarifying questions, plans a report, runs parallel search tasks, reviews the findings and writes a cited final report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)
			interactive := !cmd.Flags().Changed("topic")
			if interactive {
				fmt.Print("Enter research topic: ")
				input, _ := reader.ReadString('\n')
				topic = strings.TrimSpace(input)
			}
			if topic == "" {
				return fmt.Errorf("topic cannot be empty")
			}
			if cmd.Flags().Changed("depth") {
				cfg.ReviewDepth = depth
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return run(ctx, cfg, reader, interactive)
		},
	}

	rootCmd.Flags().StringVarP(&topic, "topic", "t", "", "The research topic")
	rootCmd.Flags().StringVarP(&feedback, "feedback", "f", "", "Answers to the clarifying questions")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", cfg.ReviewDepth, "Number of review rounds")
	rootCmd.Flags().StringVar(&historyDB, "history-db", cfg.HistoryDB, "SQLite file to keep research history in")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory for the report and sources files")
	rootCmd.Flags().StringSliceVarP(&resources, "resource", "r", nil, "Local text files to research alongside the web (needs DATABASE_URL)")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, reader *bufio.Reader, interactive bool) error {
	thinking, err := clients.New(ctx, clients.Options{Provider: cfg.Provider, Model: cfg.ThinkingModel, APIKey: cfg.APIKey(), BaseURL: cfg.BaseURL()})
	if err != nil {
		return err
	}
	task, err := clients.New(ctx, clients.Options{Provider: cfg.Provider, Model: cfg.TaskModel, APIKey: cfg.APIKey(), BaseURL: cfg.BaseURL()})
	if err != nil {
		return err
	}
	searcher, err := search.New(search.Options{
		Provider:      cfg.SearchProvider,
		BaseURL:       cfg.SearxngURL,
		MaxResults:    cfg.SearchMaxResults,
		RatePerSecond: cfg.SearchRateLimit,
	})
	if err != nil {
		return err
	}

	store, closeStore, err := openHistory(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	o := &research.Orchestrator{
		Thinking: thinking,
		Task:     task,
		Search:   searcher,
		History:  store,
		Settings: cfg.Research(),
		Logger:   slog.Default(),
	}

	s := research.NewSession(topic)
	unsubscribe := s.Subscribe(printer())
	defer unsubscribe()

	if len(resources) > 0 {
		kb, closeKB, err := openKnowledge(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeKB()
		o.Knowledge = kb
		for _, path := range resources {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read resource: %w", err)
			}
			if _, err := o.AddKnowledge(ctx, s, filepath.Base(path), resourceType(path), string(data)); err != nil {
				return err
			}
		}
	}

	if feedback == "" {
		if err := o.AskQuestions(ctx, s); err != nil {
			return err
		}
		fmt.Println()
		if interactive {
			fmt.Println("Answer the questions (finish with an empty line):")
			feedback = readBlock(reader)
		}
	}
	s.SetFeedback(feedback)

	slog.Info("Starting research", "topic", topic, "depth", cfg.ReviewDepth, "search", cfg.SearchProvider)
	if err := o.Run(ctx, s); err != nil {
		return err
	}
	fmt.Println()
	return writeOutputs(s.Backup())
}

// printer streams questions and the final report to stdout and reports
// task progress on the log.
func printer() func(research.Event) {
	return func(e research.Event) {
		switch e.Type {
		case research.EventDelta:
			if e.Stage == research.StageQuestions || e.Stage == research.StageFinalReport {
				fmt.Print(e.Text)
			}
		case research.EventTask:
			slog.Info("Task update", "query", e.Query, "state", e.State)
		}
	}
}

func readBlock(reader *bufio.Reader) string {
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func openHistory(ctx context.Context) (history.Store, func(), error) {
	if historyDB == "" {
		return history.NewMemory(), func() {}, nil
	}
	db, err := history.OpenSQLite(ctx, historyDB)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func openKnowledge(ctx context.Context, cfg *config.Config) (*knowledge.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("--resource needs DATABASE_URL for the vector store")
	}
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: 4})
	if err != nil {
		return nil, nil, err
	}
	embedder, err := embeddings.New(ctx, embeddings.Options{
		Provider:  cfg.Provider,
		Model:     cfg.EmbeddingModel,
		APIKey:    cfg.EmbeddingAPIKey(),
		BaseURL:   cfg.BaseURL(),
		Dimension: embeddings.DefaultDimension,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	vectors, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err == nil {
		err = vectors.Init(ctx, embedder.Dimension())
	}
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return knowledge.NewStore(vectors, embedder, cfg.ChunkSize, cfg.ChunkOverlap), db.Close, nil
}

func resourceType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "text/plain"
}

func writeOutputs(snap types.Snapshot) error {
	if snap.FinalReport == "" {
		return fmt.Errorf("no report was written")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	stamp := time.Now().Unix()
	reportPath := filepath.Join(outputDir, fmt.Sprintf("report_%d.md", stamp))
	if err := os.WriteFile(reportPath, []byte(snap.FinalReport), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	sources := snap.Sources
	if sources == nil {
		sources = []types.Source{}
	}
	data, err := json.MarshalIndent(sources, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}
	sourcesPath := filepath.Join(outputDir, "sources.json")
	if err := os.WriteFile(sourcesPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sources: %w", err)
	}
	slog.Info("Research finished", "title", snap.Title, "report", reportPath, "sources", sourcesPath, "history_id", snap.HistoryID)
	return nil
}
