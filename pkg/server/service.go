package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/report-engine/pkg/config"
	"github.com/mikeboe/report-engine/pkg/database"
	"github.com/mikeboe/report-engine/pkg/engine"
	"github.com/mikeboe/report-engine/pkg/orchestrator"
	"github.com/mikeboe/report-engine/pkg/types"
)

// Service owns the report job lifecycle: persistence, the background worker
// and log retrieval.
type Service struct {
	DB  *database.PostgresDB
	Cfg *config.Config
}

func NewService(db *database.PostgresDB, cfg *config.Config) *Service {
	return &Service{
		DB:  db,
		Cfg: cfg,
	}
}

type Job struct {
	ID               uuid.UUID       `json:"id"`
	Query            string          `json:"query"`
	ReportType       string          `json:"report_type"`
	Tone             *string         `json:"tone,omitempty"`
	Status           string          `json:"status"`
	Report           *string         `json:"report,omitempty"`
	VisitedURLs      json.RawMessage `json:"visited_urls,omitempty"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	TotalCost        float64         `json:"total_cost"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Config           json.RawMessage `json:"config,omitempty"`
}

type CreateJobRequest struct {
	Query      string   `json:"query"`
	ReportType string   `json:"report_type"`
	Tone       string   `json:"tone"`
	Source     string   `json:"source"`
	SourceURLs []string `json:"source_urls"`
	Subtopics  []string `json:"subtopics"`
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if req.ReportType == "" {
		req.ReportType = string(types.ReportResearch)
	}
	if req.Tone == "" {
		req.Tone = string(types.ToneObjective)
	}

	configJSON, _ := json.Marshal(map[string]interface{}{
		"source_urls": req.SourceURLs,
		"subtopics":   req.Subtopics,
		"collection":  s.Cfg.CollectionName,
	})

	jobID := uuid.New()
	query := `
		INSERT INTO report_jobs (id, query, report_type, tone, status, config)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING id, query, report_type, tone, status, created_at, updated_at
	`

	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, jobID, req.Query, req.ReportType, req.Tone, configJSON).Scan(
		&job.ID, &job.Query, &job.ReportType, &job.Tone, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	go s.runWorker(job.ID, req)

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, query, report_type, tone, status, report, visited_urls,
		       prompt_tokens, completion_tokens, total_cost, created_at, updated_at, config
		FROM report_jobs
		WHERE id = $1
	`
	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Query, &job.ReportType, &job.Tone, &job.Status, &job.Report, &job.VisitedURLs,
		&job.PromptTokens, &job.CompletionTokens, &job.TotalCost, &job.CreatedAt, &job.UpdatedAt, &job.Config,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	query := `
		SELECT id, query, report_type, tone, status, report, visited_urls,
		       prompt_tokens, completion_tokens, total_cost, created_at, updated_at, config
		FROM report_jobs
		ORDER BY created_at DESC
		LIMIT 50
	`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Query, &job.ReportType, &job.Tone, &job.Status, &job.Report, &job.VisitedURLs,
			&job.PromptTokens, &job.CompletionTokens, &job.TotalCost, &job.CreatedAt, &job.UpdatedAt, &job.Config); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM report_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func (s *Service) runWorker(jobID uuid.UUID, req CreateJobRequest) {
	ctx := context.Background()

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE report_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID)

	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))

	eng := engine.New(s.Cfg, s.DB)
	eng.Logger = dbLogger
	eng.OnStateUpdate = func(phase orchestrator.Phase) {
		dbLogger.Info("Phase change", "phase", string(phase))
	}

	report, err := eng.Run(ctx, req.Query, engine.RunOptions{
		ReportType: types.ReportType(req.ReportType),
		Tone:       types.Tone(req.Tone),
		Source:     types.ReportSource(req.Source),
		SourceURLs: req.SourceURLs,
		Subtopics:  req.Subtopics,
	})
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Report generation failed: %v", err))
		return
	}

	visitedJSON, _ := json.Marshal(report.VisitedURLs)

	_, err = s.DB.Pool.Exec(ctx, `
		UPDATE report_jobs
		SET status = 'completed', report = $2, visited_urls = $3,
		    prompt_tokens = $4, completion_tokens = $5, total_cost = $6,
		    updated_at = NOW()
		WHERE id = $1`,
		jobID, report.Markdown, visitedJSON,
		report.Costs.PromptTokens, report.Costs.CompletionTokens, report.Costs.TotalCost,
	)
	if err != nil {
		dbLogger.Error("Failed to save final report", "error", err)
	}
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, reason string) {
	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))
	dbLogger.Error(reason)

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE report_jobs SET status = 'failed', updated_at = NOW() WHERE id = $1", jobID)
}
