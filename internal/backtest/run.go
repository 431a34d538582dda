package backtest

import (
	"time"
)

type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// RunConfig is the parameter snapshot stored with each run so a result
// can be reproduced later.
type RunConfig struct {
	Strategy     string             `json:"strategy"`
	Params       map[string]float64 `json:"params,omitempty"`
	Symbols      []string           `json:"symbols"`
	Timeframe    string             `json:"timeframe"`
	Start        time.Time          `json:"start"`
	End          time.Time          `json:"end"`
	StartingCash float64            `json:"starting_cash"`
	OrderSize    float64            `json:"order_size"`
	Seed         int64              `json:"seed"`
	WarmupBars   int                `json:"warmup_bars"`
}

// Run is one backtest job and its outcome.
type Run struct {
	ID           string     `json:"id"`
	Status       RunStatus  `json:"status"`
	Config       RunConfig  `json:"config"`
	Metrics      *Metrics   `json:"metrics,omitempty"`
	ArtefactsDir string     `json:"artefacts_dir,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
