package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/report-engine/pkg/config"
	"github.com/mikeboe/report-engine/pkg/database"
	"github.com/mikeboe/report-engine/pkg/engine"
	"github.com/mikeboe/report-engine/pkg/types"
)

var (
	query      string
	reportType string
	tone       string
	source     string
	configPath string
	outputPath string
	sourceURLs []string
	subtopics  []string
)

func main() {
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	// Missing .env is fine as long as the env vars are set.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "report-engine",
		Short: "An autonomous research report generator",
		Long:  `report-engine plans a research query, fans out across search backends, compresses what it finds and writes a cited markdown report.`,
		Run: func(cmd *cobra.Command, args []string) {
			if !cmd.Flags().Changed("query") {
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter research query: ")
				input, _ := reader.ReadString('\n')
				query = strings.TrimSpace(input)
			}
			if query == "" {
				slog.Error("Research query cannot be empty")
				os.Exit(1)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				os.Exit(1)
			}
			if err := cfg.Validate(); err != nil {
				slog.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			ctx := context.Background()

			var db *database.PostgresDB
			if cfg.DatabaseURL != "" {
				db, err = database.NewPostgresDB(ctx, cfg.DatabaseURL)
				if err != nil {
					slog.Error("Failed to connect to database", "error", err)
					os.Exit(1)
				}
				defer db.Close()
			}

			eng := engine.New(cfg, db)
			eng.Stream = func(chunk string) {
				fmt.Print(chunk)
			}

			slog.Info("Starting report", "query", query, "report_type", reportType)

			report, err := eng.Run(ctx, query, engine.RunOptions{
				ReportType: types.ReportType(reportType),
				Tone:       types.Tone(tone),
				Source:     types.ReportSource(source),
				SourceURLs: sourceURLs,
				Subtopics:  subtopics,
			})
			if err != nil {
				slog.Error("Report generation failed", "error", err)
				os.Exit(1)
			}

			if outputPath != "" {
				if err := os.WriteFile(outputPath, []byte(report.Markdown), 0o644); err != nil {
					slog.Error("Failed to write report file", "error", err)
					os.Exit(1)
				}
				slog.Info("Report written", "path", outputPath)
			} else {
				fmt.Println(report.Markdown)
			}

			slog.Info("Run complete",
				"sources", len(report.VisitedURLs),
				"prompt_tokens", report.Costs.PromptTokens,
				"completion_tokens", report.Costs.CompletionTokens,
				"total_cost", fmt.Sprintf("$%.4f", report.Costs.TotalCost),
			)
		},
	}

	rootCmd.Flags().StringVarP(&query, "query", "q", "", "The research query")
	rootCmd.Flags().StringVarP(&reportType, "type", "T", string(types.ReportResearch), "Report type (research_report, resource_report, outline_report, detailed_report, deep_research)")
	rootCmd.Flags().StringVar(&tone, "tone", string(types.ToneObjective), "Writing tone (objective, formal, analytical, informative, critical)")
	rootCmd.Flags().StringVar(&source, "source", string(types.SourceHybrid), "Report source (web, local, hybrid, vectorstore)")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to this file instead of stdout")
	rootCmd.Flags().StringArrayVar(&sourceURLs, "source-url", nil, "Research these URLs alongside retrieval (repeatable)")
	rootCmd.Flags().StringArrayVar(&subtopics, "subtopic", nil, "Pin subtopics for detailed reports (repeatable)")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
