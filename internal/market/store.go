package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"solat/internal/domain"
)

// DatasetInfo records per symbol@timeframe coverage statistics. It is
// refreshed after every batch insert.
type DatasetInfo struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// BarStore persists bars in one sqlite file per symbol@timeframe.
// Prices are stored as text so decimal values round-trip exactly.
type BarStore struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewBarStore(root string) (*BarStore, error) {
	if root == "" {
		return nil, fmt.Errorf("bar store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &BarStore{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *BarStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *BarStore) db(symbol string, tf domain.Timeframe) (*sql.DB, string, error) {
	if symbol == "" || tf == "" {
		return nil, "", fmt.Errorf("symbol/timeframe cannot be empty")
	}
	key := strings.ToUpper(symbol) + "@" + strings.ToLower(string(tf))
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol, tf), nil
	}
	path := s.dbPath(symbol, tf)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureBarSchema(db, symbol, tf); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *BarStore) dbPath(symbol string, tf domain.Timeframe) string {
	dir := filepath.Join(s.root, strings.ToUpper(symbol))
	return filepath.Join(dir, strings.ToLower(string(tf))+".db")
}

// InsertBars writes a batch, overwriting rows with the same open_time.
func (s *BarStore) InsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	symbol, tf := bars[0].Symbol, bars[0].Timeframe
	db, _, err := s.db(symbol, tf)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if b.Symbol != symbol || b.Timeframe != tf {
			_ = tx.Rollback()
			return 0, fmt.Errorf("mixed symbol/timeframe in batch: %s@%s vs %s@%s", b.Symbol, b.Timeframe, symbol, tf)
		}
		if err := b.Validate(); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx,
			b.OpenTime.UnixMilli(),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
			b.Volume.String()); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshInfo(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// RangeBars returns bars with open_time in [start, end], ascending.
func (s *BarStore) RangeBars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	db, _, err := s.db(symbol, tf)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		start, end = end, start
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM bars
		WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBars(rows, symbol, tf)
}

// AllBars returns the full dataset ascending by open_time.
func (s *BarStore) AllBars(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Bar, error) {
	db, _, err := s.db(symbol, tf)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM bars ORDER BY open_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBars(rows, symbol, tf)
}

func (s *BarStore) Info(ctx context.Context, symbol string, tf domain.Timeframe) (DatasetInfo, error) {
	db, path, err := s.db(symbol, tf)
	if err != nil {
		return DatasetInfo{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol,timeframe,min_time,max_time,rows,last_sync_at FROM dataset_info WHERE id=1`)
	var info DatasetInfo
	if err := row.Scan(&info.Symbol, &info.Timeframe, &info.MinTime, &info.MaxTime, &info.Rows, &info.LastSyncAt); err != nil {
		return DatasetInfo{}, err
	}
	info.Path = path
	return info, nil
}

func (s *BarStore) refreshInfo(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE dataset_info
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM bars),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func scanBars(rows *sql.Rows, symbol string, tf domain.Timeframe) ([]domain.Bar, error) {
	var list []domain.Bar
	for rows.Next() {
		var (
			openTime                        int64
			open, high, low, closeP, volume string
		)
		if err := rows.Scan(&openTime, &open, &high, &low, &closeP, &volume); err != nil {
			return nil, err
		}
		bar := domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timeframe: tf,
			OpenTime:  time.UnixMilli(openTime).UTC(),
		}
		var err error
		if bar.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("corrupt open at %d: %w", openTime, err)
		}
		if bar.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("corrupt high at %d: %w", openTime, err)
		}
		if bar.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("corrupt low at %d: %w", openTime, err)
		}
		if bar.Close, err = decimal.NewFromString(closeP); err != nil {
			return nil, fmt.Errorf("corrupt close at %d: %w", openTime, err)
		}
		if bar.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("corrupt volume at %d: %w", openTime, err)
		}
		list = append(list, bar)
	}
	return list, rows.Err()
}

func ensureBarSchema(db *sql.DB, symbol string, tf domain.Timeframe) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			open_time  INTEGER PRIMARY KEY,
			open       TEXT NOT NULL,
			high       TEXT NOT NULL,
			low        TEXT NOT NULL,
			close      TEXT NOT NULL,
			volume     TEXT NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS dataset_info (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO dataset_info (id, symbol, timeframe) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, timeframe=excluded.timeframe;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(symbol), strings.ToLower(string(tf)))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
