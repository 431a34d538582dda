package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/parquet-go/parquet-go"

	"solat/internal/domain"
)

// Manifest records everything needed to reproduce a run.
type Manifest struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Config      RunConfig `json:"config"`
	Bars        int       `json:"bars"`
	Trades      int       `json:"trades"`
	Warnings    int       `json:"warnings"`
}

type equityRow struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Equity    float64 `parquet:"equity"`
	Drawdown  float64 `parquet:"drawdown"`
}

type tradeRow struct {
	Symbol     string  `parquet:"symbol"`
	Strategy   string  `parquet:"strategy"`
	Direction  string  `parquet:"direction"`
	EntryTS    int64   `parquet:"entry_ts,timestamp(millisecond)"`
	ExitTS     int64   `parquet:"exit_ts,timestamp(millisecond)"`
	EntryPrice float64 `parquet:"entry_price"`
	ExitPrice  float64 `parquet:"exit_price"`
	Size       float64 `parquet:"size"`
	Fees       float64 `parquet:"fees"`
	PnL        float64 `parquet:"pnl"`
	MAE        float64 `parquet:"mae"`
	MFE        float64 `parquet:"mfe"`
	BarsHeld   int32   `parquet:"bars_held"`
}

type orderRow struct {
	OrderID      string  `parquet:"order_id"`
	IntentID     string  `parquet:"intent_id"`
	Symbol       string  `parquet:"symbol"`
	Direction    string  `parquet:"direction"`
	Size         float64 `parquet:"size"`
	Status       string  `parquet:"status"`
	FillPrice    float64 `parquet:"fill_price"`
	RejectReason string  `parquet:"reject_reason"`
	CreatedAt    int64   `parquet:"created_at,timestamp(millisecond)"`
}

// WriteArtefacts materializes the run outputs: manifest, metrics and
// warnings as JSON, the equity curve, trade list and order list as
// parquet, and an equity chart as standalone HTML.
func WriteArtefacts(dir string, run Run, result *RunResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artefacts dir: %w", err)
	}

	manifest := Manifest{
		RunID:       run.ID,
		GeneratedAt: time.Now().UTC(),
		Config:      run.Config,
		Bars:        result.Bars,
		Trades:      len(result.Trades),
		Warnings:    len(result.Warnings),
	}
	if err := writeJSON(filepath.Join(dir, "manifest.json"), manifest); err != nil {
		return err
	}
	metricsDoc := map[string]any{
		"metrics":      result.Metrics,
		"per_strategy": result.Breakdown,
	}
	if err := writeJSON(filepath.Join(dir, "metrics.json"), metricsDoc); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "warnings.json"), result.Warnings); err != nil {
		return err
	}

	if err := parquet.WriteFile(filepath.Join(dir, "equity_curve.parquet"), equityRows(result.Curve)); err != nil {
		return fmt.Errorf("write equity curve: %w", err)
	}
	if err := parquet.WriteFile(filepath.Join(dir, "trades.parquet"), tradeRows(result.Trades)); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}
	if err := parquet.WriteFile(filepath.Join(dir, "orders.parquet"), orderRows(result.Orders)); err != nil {
		return fmt.Errorf("write orders: %w", err)
	}

	if err := renderEquityChart(filepath.Join(dir, "equity.html"), run, result.Curve); err != nil {
		return fmt.Errorf("render equity chart: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func equityRows(curve []EquityPoint) []equityRow {
	rows := make([]equityRow, 0, len(curve))
	for _, pt := range curve {
		rows = append(rows, equityRow{
			Timestamp: pt.TS.UnixMilli(),
			Equity:    pt.Equity.InexactFloat64(),
			Drawdown:  pt.Drawdown.InexactFloat64(),
		})
	}
	return rows
}

func tradeRows(trades []TradeRecord) []tradeRow {
	rows := make([]tradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, tradeRow{
			Symbol:     t.Symbol,
			Strategy:   t.Strategy,
			Direction:  string(t.Direction),
			EntryTS:    t.EntryTS.UnixMilli(),
			ExitTS:     t.ExitTS.UnixMilli(),
			EntryPrice: t.EntryPrice.InexactFloat64(),
			ExitPrice:  t.ExitPrice.InexactFloat64(),
			Size:       t.Size.InexactFloat64(),
			Fees:       t.Fees.InexactFloat64(),
			PnL:        t.PnL.InexactFloat64(),
			MAE:        t.MAE.InexactFloat64(),
			MFE:        t.MFE.InexactFloat64(),
			BarsHeld:   int32(t.BarsHeld),
		})
	}
	return rows
}

func orderRows(orders []domain.Order) []orderRow {
	rows := make([]orderRow, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, orderRow{
			OrderID:      o.OrderID.String(),
			IntentID:     o.IntentID.String(),
			Symbol:       o.Symbol,
			Direction:    string(o.Direction),
			Size:         o.Size.InexactFloat64(),
			Status:       string(o.Status),
			FillPrice:    o.FillPrice.InexactFloat64(),
			RejectReason: o.RejectReason,
			CreatedAt:    o.CreatedAt.UnixMilli(),
		})
	}
	return rows
}

func renderEquityChart(path string, run Run, curve []EquityPoint) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Equity curve %s", run.Config.Strategy),
			Subtitle: fmt.Sprintf("run %s, seed %d", run.ID, run.Config.Seed),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	xAxis := make([]string, 0, len(curve))
	data := make([]opts.LineData, 0, len(curve))
	for _, pt := range curve {
		xAxis = append(xAxis, pt.TS.UTC().Format("2006-01-02 15:04"))
		data = append(data, opts.LineData{Value: pt.Equity.InexactFloat64()})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("equity", data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}
