package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"solat/internal/domain"
)

// Audit event types.
const (
	EventIntentReceived  = "intent_received"
	EventRiskApproved    = "risk_approved"
	EventRiskRejected    = "risk_rejected"
	EventOrderSubmitted  = "order_submitted"
	EventOrderAcked      = "order_acknowledged"
	EventOrderFilled     = "order_filled"
	EventSubmitFailed    = "submit_failed"
	EventPositionClosed  = "position_closed"
	EventKillSwitch      = "killswitch_activated"
	EventKillSwitchReset = "killswitch_reset"
	EventReconcileDrift  = "reconciliation_drift"
)

// AuditEvent is one append-only ledger entry. Events are never
// updated or deleted.
type AuditEvent struct {
	TS       time.Time `json:"ts"`
	Type     string    `json:"type"`
	OrderID  uuid.UUID `json:"order_id"`
	IntentID uuid.UUID `json:"intent_id"`
	Symbol   string    `json:"symbol"`
	Detail   string    `json:"detail,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

type auditEventModel struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	TS       time.Time `gorm:"index"`
	Type     string    `gorm:"size:64;index"`
	OrderID  string    `gorm:"size:36;index"`
	IntentID string    `gorm:"size:36;index"`
	Symbol   string    `gorm:"size:32"`
	Detail   string
	Payload  string
}

func (auditEventModel) TableName() string { return "audit_events" }

type orderModel struct {
	OrderID      string `gorm:"primaryKey;size:36"`
	IntentID     string `gorm:"size:36;index"`
	Symbol       string `gorm:"size:32;index"`
	Direction    string `gorm:"size:8"`
	Size         string `gorm:"size:40"`
	Status       string `gorm:"size:24;index"`
	EntryPrice   string `gorm:"size:40"`
	FillPrice    string `gorm:"size:40"`
	StopLoss     string `gorm:"size:40"`
	TakeProfit   string `gorm:"size:40"`
	Strategy     string `gorm:"size:64"`
	RejectReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (orderModel) TableName() string { return "orders" }

type fillModel struct {
	FillID   string `gorm:"primaryKey;size:36"`
	OrderID  string `gorm:"size:36;index"`
	Symbol   string `gorm:"size:32;index"`
	TS       time.Time
	Price    string `gorm:"size:40"`
	Size     string `gorm:"size:40"`
	Fees     string `gorm:"size:40"`
	IsClose  bool
	PnL      string `gorm:"size:40"`
	Strategy string `gorm:"size:64"`
}

func (fillModel) TableName() string { return "fills" }

type killSwitchModel struct {
	ID          uint `gorm:"primaryKey"`
	Active      bool
	Reason      string `gorm:"size:64"`
	ActivatedAt time.Time
	ResetAt     time.Time
	UpdatedAt   time.Time
}

func (killSwitchModel) TableName() string { return "kill_switch" }

// Ledger is the durable audit trail: orders, fills, events and the
// kill switch record, all in one sqlite file.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&auditEventModel{}, &orderModel{}, &fillModel{}, &killSwitchModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendEvent writes one audit entry. The payload is serialized as
// JSON; a marshal failure degrades to the error text rather than
// losing the event.
func (l *Ledger) AppendEvent(ctx context.Context, ev AuditEvent) error {
	payload := ""
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			payload = fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
		} else {
			payload = string(raw)
		}
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	row := auditEventModel{
		TS:       ev.TS.UTC(),
		Type:     ev.Type,
		OrderID:  uuidString(ev.OrderID),
		IntentID: uuidString(ev.IntentID),
		Symbol:   ev.Symbol,
		Detail:   ev.Detail,
		Payload:  payload,
	}
	return l.db.WithContext(ctx).Create(&row).Error
}

// SaveOrder upserts the current order snapshot. Transitions are
// captured separately as events, so the row holds the latest state.
func (l *Ledger) SaveOrder(ctx context.Context, o *domain.Order) error {
	row := orderModel{
		OrderID:      o.OrderID.String(),
		IntentID:     o.IntentID.String(),
		Symbol:       o.Symbol,
		Direction:    string(o.Direction),
		Size:         o.Size.String(),
		Status:       string(o.Status),
		EntryPrice:   o.EntryPrice.String(),
		FillPrice:    o.FillPrice.String(),
		StopLoss:     o.StopLoss.String(),
		TakeProfit:   o.TakeProfit.String(),
		Strategy:     o.Strategy,
		RejectReason: o.RejectReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	return l.db.WithContext(ctx).Save(&row).Error
}

// RecordFill appends a fill. Fills are immutable; a duplicate fill ID
// is an error, never an update.
func (l *Ledger) RecordFill(ctx context.Context, f domain.Fill) error {
	row := fillModel{
		FillID:   f.FillID.String(),
		OrderID:  f.OrderID.String(),
		Symbol:   f.Symbol,
		TS:       f.TS.UTC(),
		Price:    f.Price.String(),
		Size:     f.Size.String(),
		Fees:     f.Fees.String(),
		IsClose:  f.IsClose,
		PnL:      f.PnL.String(),
		Strategy: f.Strategy,
	}
	return l.db.WithContext(ctx).Create(&row).Error
}

// Orders returns the latest order snapshots, newest first.
func (l *Ledger) Orders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []orderModel
	if err := l.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		o, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Fills returns fills for one order in execution order.
func (l *Ledger) Fills(ctx context.Context, orderID uuid.UUID) ([]domain.Fill, error) {
	var rows []fillModel
	if err := l.db.WithContext(ctx).Where("order_id = ?", orderID.String()).Order("ts ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Fill, 0, len(rows))
	for _, row := range rows {
		f, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Events returns the audit trail for one order, oldest first.
func (l *Ledger) Events(ctx context.Context, orderID uuid.UUID) ([]AuditEvent, error) {
	var rows []auditEventModel
	if err := l.db.WithContext(ctx).Where("order_id = ?", orderID.String()).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]AuditEvent, 0, len(rows))
	for _, row := range rows {
		ev := AuditEvent{
			TS:     row.TS,
			Type:   row.Type,
			Symbol: row.Symbol,
			Detail: row.Detail,
		}
		if row.OrderID != "" {
			ev.OrderID, _ = uuid.Parse(row.OrderID)
		}
		if row.IntentID != "" {
			ev.IntentID, _ = uuid.Parse(row.IntentID)
		}
		if row.Payload != "" {
			var payload any
			if err := json.Unmarshal([]byte(row.Payload), &payload); err == nil {
				ev.Payload = payload
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// SaveKillSwitch persists the singleton switch row.
func (l *Ledger) SaveKillSwitch(ctx context.Context, rec KillSwitchRecord) error {
	row := killSwitchModel{
		ID:          1,
		Active:      rec.Active,
		Reason:      rec.Reason,
		ActivatedAt: rec.ActivatedAt,
		ResetAt:     rec.ResetAt,
		UpdatedAt:   time.Now().UTC(),
	}
	return l.db.WithContext(ctx).Save(&row).Error
}

func (l *Ledger) LoadKillSwitch(ctx context.Context) (KillSwitchRecord, bool, error) {
	var row killSwitchModel
	err := l.db.WithContext(ctx).First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return KillSwitchRecord{}, false, nil
	}
	if err != nil {
		return KillSwitchRecord{}, false, err
	}
	return KillSwitchRecord{
		Active:      row.Active,
		Reason:      row.Reason,
		ActivatedAt: row.ActivatedAt,
		ResetAt:     row.ResetAt,
	}, true, nil
}

var _ KillSwitchStore = (*Ledger)(nil)

func uuidString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func (m orderModel) toDomain() (domain.Order, error) {
	o := domain.Order{
		Symbol:       m.Symbol,
		Direction:    domain.Direction(m.Direction),
		Status:       domain.OrderStatus(m.Status),
		Strategy:     m.Strategy,
		RejectReason: m.RejectReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	var err error
	if o.OrderID, err = uuid.Parse(m.OrderID); err != nil {
		return domain.Order{}, fmt.Errorf("corrupt order id %q: %w", m.OrderID, err)
	}
	if o.IntentID, err = uuid.Parse(m.IntentID); err != nil {
		return domain.Order{}, fmt.Errorf("corrupt intent id %q: %w", m.IntentID, err)
	}
	if o.Size, err = decimal.NewFromString(m.Size); err != nil {
		return domain.Order{}, err
	}
	o.EntryPrice = parseDecimalOrZero(m.EntryPrice)
	o.FillPrice = parseDecimalOrZero(m.FillPrice)
	o.StopLoss = parseDecimalOrZero(m.StopLoss)
	o.TakeProfit = parseDecimalOrZero(m.TakeProfit)
	return o, nil
}

func (m fillModel) toDomain() (domain.Fill, error) {
	f := domain.Fill{
		Symbol:   m.Symbol,
		TS:       m.TS,
		IsClose:  m.IsClose,
		Strategy: m.Strategy,
	}
	var err error
	if f.FillID, err = uuid.Parse(m.FillID); err != nil {
		return domain.Fill{}, fmt.Errorf("corrupt fill id %q: %w", m.FillID, err)
	}
	if f.OrderID, err = uuid.Parse(m.OrderID); err != nil {
		return domain.Fill{}, fmt.Errorf("corrupt order id %q: %w", m.OrderID, err)
	}
	if f.Price, err = decimal.NewFromString(m.Price); err != nil {
		return domain.Fill{}, err
	}
	if f.Size, err = decimal.NewFromString(m.Size); err != nil {
		return domain.Fill{}, err
	}
	f.Fees = parseDecimalOrZero(m.Fees)
	f.PnL = parseDecimalOrZero(m.PnL)
	return f, nil
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
