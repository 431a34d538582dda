package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type runModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	Status       string `gorm:"size:16;index"`
	ConfigJSON   string
	MetricsJSON  string
	ArtefactsDir string
	ErrorMsg     string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

func (runModel) TableName() string { return "backtest_runs" }

// RunStore persists run records in a small sqlite database so results
// survive restarts.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(path string) (*RunStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create run db dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open run db: %w", err)
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, fmt.Errorf("migrate run db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *RunStore) CreateRun(ctx context.Context, run Run) error {
	model, err := toRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *RunStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(RunStatusRunning), "started_at": at}).Error
}

func (s *RunStore) MarkDone(ctx context.Context, id string, metrics Metrics, artefactsDir string, at time.Time) error {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(RunStatusDone),
			"metrics_json":  string(raw),
			"artefacts_dir": artefactsDir,
			"finished_at":   at,
		}).Error
}

func (s *RunStore) MarkFailed(ctx context.Context, id string, runErr error, at time.Time) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(RunStatusFailed), "error_msg": msg, "finished_at": at}).Error
}

func (s *RunStore) GetRun(ctx context.Context, id string) (Run, error) {
	var model runModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return Run{}, err
	}
	return fromRunModel(model)
}

func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := fromRunModel(m)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func toRunModel(run Run) (runModel, error) {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, fmt.Errorf("marshal run config: %w", err)
	}
	model := runModel{
		ID:           run.ID,
		Status:       string(run.Status),
		ConfigJSON:   string(cfg),
		ArtefactsDir: run.ArtefactsDir,
		ErrorMsg:     run.Error,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	if run.Metrics != nil {
		raw, err := json.Marshal(run.Metrics)
		if err != nil {
			return runModel{}, fmt.Errorf("marshal metrics: %w", err)
		}
		model.MetricsJSON = string(raw)
	}
	return model, nil
}

func fromRunModel(model runModel) (Run, error) {
	run := Run{
		ID:           model.ID,
		Status:       RunStatus(model.Status),
		ArtefactsDir: model.ArtefactsDir,
		Error:        model.ErrorMsg,
		CreatedAt:    model.CreatedAt,
		StartedAt:    model.StartedAt,
		FinishedAt:   model.FinishedAt,
	}
	if model.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(model.ConfigJSON), &run.Config); err != nil {
			return Run{}, fmt.Errorf("corrupt run config for %s: %w", model.ID, err)
		}
	}
	if model.MetricsJSON != "" {
		var m Metrics
		if err := json.Unmarshal([]byte(model.MetricsJSON), &m); err != nil {
			return Run{}, fmt.Errorf("corrupt metrics for %s: %w", model.ID, err)
		}
		run.Metrics = &m
	}
	return run, nil
}
