package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/newthinker/arena/internal/core"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type configRecord struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"index"`
	Name       string
	Symbols    []string `gorm:"serializer:json"`
	Interval   string
	Strategies []core.SessionStrategy `gorm:"serializer:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (configRecord) TableName() string { return "strategy_configs" }

type sessionRecord struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"index"`
	Name             string
	StrategyConfigID string `gorm:"index"`
	ConfigHash       string
	Symbols          []string `gorm:"serializer:json"`
	Interval         string
	Mode             string
	TradeAmount      float64
	BrokerEnabled    bool
	IsActive         bool `gorm:"index"`
	StartedAt        time.Time
	StoppedAt        *time.Time
	LastTickAt       *time.Time
	TotalPolls       int
	CanResume        bool
	Strategies       []core.SessionStrategy `gorm:"serializer:json"`
	Broker           core.BrokerStatus      `gorm:"serializer:json"`
}

func (sessionRecord) TableName() string { return "sessions" }

type positionRecord struct {
	ID            string `gorm:"primaryKey"`
	SessionID     string `gorm:"index:idx_position_session"`
	StrategyID    string `gorm:"index:idx_position_session"`
	Symbol        string `gorm:"index"`
	Strategy      string
	Direction     string
	EntryTime     time.Time
	EntryPrice    float64
	ExitTime      *time.Time
	ExitPrice     float64
	Quantity      float64
	StopLoss      float64
	TakeProfit    float64
	TrailDistance float64
	CurrentPrice  float64
	CloseReason   string
	ReturnPct     float64
	ProfitLoss    float64
	IsOpen        bool `gorm:"index"`
	BrokerOrderID string
	UpdatedAt     time.Time
}

func (positionRecord) TableName() string { return "positions" }

type cursorRecord struct {
	SessionID  string `gorm:"primaryKey"`
	StrategyID string `gorm:"primaryKey"`
	Symbol     string `gorm:"primaryKey"`
	At         time.Time
}

func (cursorRecord) TableName() string { return "cursors" }

type logRecord struct {
	SessionID  string `gorm:"primaryKey"`
	ID         int64  `gorm:"primaryKey;autoIncrement:false"`
	Time       time.Time
	Level      string
	Symbol     string
	StrategyID string
	PositionID string
	Price      float64
	Message    string
}

func (logRecord) TableName() string { return "session_logs" }

// SQLStore is a Store backed by gorm. The sqlite driver is pure Go.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens (and migrates) a SQLite database at dsn.
// Use "file::memory:?cache=shared" for an ephemeral store.
func OpenSQLite(dsn string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, core.WrapError(core.ErrPersistenceFailed, fmt.Errorf("open %s: %w", dsn, err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, core.WrapError(core.ErrPersistenceFailed, err)
	}
	// sqlite serializes writers; one connection keeps log id assignment atomic
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&configRecord{}, &sessionRecord{}, &positionRecord{}, &cursorRecord{}, &logRecord{}); err != nil {
		return nil, core.WrapError(core.ErrPersistenceFailed, fmt.Errorf("migrate: %w", err))
	}

	logger.Info("session store opened", zap.String("dsn", dsn))
	return &SQLStore{db: db, logger: logger}, nil
}

func persistErr(op string, err error) error {
	return core.WrapError(core.ErrPersistenceFailed, fmt.Errorf("%s: %w", op, err))
}

func (s *SQLStore) SaveConfig(ctx context.Context, cfg core.StrategyConfig) error {
	rec := configRecord{
		ID:         cfg.ID,
		UserID:     cfg.UserID,
		Name:       cfg.Name,
		Symbols:    cfg.Symbols,
		Interval:   cfg.Interval,
		Strategies: cfg.Strategies,
		CreatedAt:  cfg.CreatedAt,
		UpdatedAt:  cfg.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return persistErr("save config", err)
	}
	return nil
}

func (s *SQLStore) GetConfig(ctx context.Context, id string) (*core.StrategyConfig, error) {
	var rec configRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.Errorf(core.ErrStrategyConfigNotFound, "config %s", id)
	}
	if err != nil {
		return nil, persistErr("get config", err)
	}
	cfg := rec.toCore()
	return &cfg, nil
}

func (s *SQLStore) ListConfigs(ctx context.Context, userID string) ([]core.StrategyConfig, error) {
	q := s.db.WithContext(ctx).Order("created_at, id")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var recs []configRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, persistErr("list configs", err)
	}
	out := make([]core.StrategyConfig, len(recs))
	for i, r := range recs {
		out[i] = r.toCore()
	}
	return out, nil
}

func (r configRecord) toCore() core.StrategyConfig {
	return core.StrategyConfig{
		ID:         r.ID,
		UserID:     r.UserID,
		Name:       r.Name,
		Symbols:    r.Symbols,
		Interval:   r.Interval,
		Strategies: r.Strategies,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (s *SQLStore) SaveSession(ctx context.Context, sess core.Session) error {
	rec := sessionRecord{
		ID:               sess.ID,
		UserID:           sess.UserID,
		Name:             sess.Name,
		StrategyConfigID: sess.StrategyConfigID,
		ConfigHash:       sess.ConfigHash,
		Symbols:          sess.Symbols,
		Interval:         sess.Interval,
		Mode:             string(sess.Mode),
		TradeAmount:      sess.TradeAmount,
		BrokerEnabled:    sess.BrokerEnabled,
		IsActive:         sess.IsActive,
		StartedAt:        sess.StartedAt,
		StoppedAt:        sess.StoppedAt,
		LastTickAt:       sess.LastTickAt,
		TotalPolls:       sess.TotalPolls,
		CanResume:        sess.CanResume,
		Strategies:       sess.Strategies,
		Broker:           sess.Broker,
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return persistErr("save session", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.Errorf(core.ErrSessionNotFound, "session %s", id)
	}
	if err != nil {
		return nil, persistErr("get session", err)
	}
	sess := rec.toCore()
	return &sess, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, filter SessionFilter) ([]core.Session, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC, id")
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ConfigID != "" {
		q = q.Where("strategy_config_id = ?", filter.ConfigID)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var recs []sessionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, persistErr("list sessions", err)
	}
	out := make([]core.Session, len(recs))
	for i, r := range recs {
		out[i] = r.toCore()
	}
	return out, nil
}

func (r sessionRecord) toCore() core.Session {
	return core.Session{
		ID:               r.ID,
		UserID:           r.UserID,
		Name:             r.Name,
		StrategyConfigID: r.StrategyConfigID,
		ConfigHash:       r.ConfigHash,
		Symbols:          r.Symbols,
		Interval:         r.Interval,
		Mode:             core.SessionMode(r.Mode),
		TradeAmount:      r.TradeAmount,
		BrokerEnabled:    r.BrokerEnabled,
		IsActive:         r.IsActive,
		StartedAt:        r.StartedAt,
		StoppedAt:        r.StoppedAt,
		LastTickAt:       r.LastTickAt,
		TotalPolls:       r.TotalPolls,
		CanResume:        r.CanResume,
		Strategies:       r.Strategies,
		Broker:           r.Broker,
	}
}

func (s *SQLStore) SavePosition(ctx context.Context, p core.Position) error {
	rec := positionRecord{
		ID:            p.ID,
		SessionID:     p.SessionID,
		StrategyID:    p.StrategyID,
		Symbol:        p.Symbol,
		Strategy:      p.Strategy,
		Direction:     string(p.Direction),
		EntryTime:     p.EntryTime,
		EntryPrice:    p.EntryPrice,
		ExitTime:      p.ExitTime,
		ExitPrice:     p.ExitPrice,
		Quantity:      p.Quantity,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		TrailDistance: p.TrailDistance,
		CurrentPrice:  p.CurrentPrice,
		CloseReason:   string(p.CloseReason),
		ReturnPct:     p.ReturnPct,
		ProfitLoss:    p.ProfitLoss,
		IsOpen:        p.IsOpen,
		BrokerOrderID: p.BrokerOrderID,
		UpdatedAt:     p.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return persistErr("save position", err)
	}
	return nil
}

func (s *SQLStore) GetPosition(ctx context.Context, id string) (*core.Position, error) {
	var rec positionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.Errorf(core.ErrPositionNotFound, "position %s", id)
	}
	if err != nil {
		return nil, persistErr("get position", err)
	}
	p := rec.toCore()
	return &p, nil
}

func (s *SQLStore) ListPositions(ctx context.Context, filter PositionFilter) ([]core.Position, error) {
	q := s.db.WithContext(ctx).Order("entry_time, id")
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.StrategyID != "" {
		q = q.Where("strategy_id = ?", filter.StrategyID)
	}
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.OpenOnly {
		q = q.Where("is_open = ?", true)
	}
	var recs []positionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, persistErr("list positions", err)
	}
	out := make([]core.Position, len(recs))
	for i, r := range recs {
		out[i] = r.toCore()
	}
	return out, nil
}

func (r positionRecord) toCore() core.Position {
	return core.Position{
		Trade: core.Trade{
			ID:            r.ID,
			Symbol:        r.Symbol,
			Strategy:      r.Strategy,
			Direction:     core.Direction(r.Direction),
			EntryTime:     r.EntryTime,
			EntryPrice:    r.EntryPrice,
			ExitTime:      r.ExitTime,
			ExitPrice:     r.ExitPrice,
			Quantity:      r.Quantity,
			StopLoss:      r.StopLoss,
			TakeProfit:    r.TakeProfit,
			TrailDistance: r.TrailDistance,
			CurrentPrice:  r.CurrentPrice,
			CloseReason:   core.CloseReason(r.CloseReason),
			ReturnPct:     r.ReturnPct,
			ProfitLoss:    r.ProfitLoss,
			IsOpen:        r.IsOpen,
		},
		SessionID:     r.SessionID,
		StrategyID:    r.StrategyID,
		BrokerOrderID: r.BrokerOrderID,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *SQLStore) GetCursor(ctx context.Context, key CursorKey) (time.Time, bool, error) {
	var rec cursorRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND strategy_id = ? AND symbol = ?", key.SessionID, key.StrategyID, key.Symbol).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, persistErr("get cursor", err)
	}
	return rec.At, true, nil
}

func (s *SQLStore) SaveCursor(ctx context.Context, key CursorKey, at time.Time) error {
	rec := cursorRecord{SessionID: key.SessionID, StrategyID: key.StrategyID, Symbol: key.Symbol, At: at}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "strategy_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"at"}),
	}).Create(&rec).Error
	if err != nil {
		return persistErr("save cursor", err)
	}
	return nil
}

func (s *SQLStore) AppendLog(ctx context.Context, ev core.LogEvent) (core.LogEvent, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&logRecord{}).
			Where("session_id = ?", ev.SessionID).
			Select("COALESCE(MAX(id), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		ev.ID = last + 1
		return tx.Create(&logRecord{
			SessionID:  ev.SessionID,
			ID:         ev.ID,
			Time:       ev.Time,
			Level:      string(ev.Level),
			Symbol:     ev.Symbol,
			StrategyID: ev.StrategyID,
			PositionID: ev.PositionID,
			Price:      ev.Price,
			Message:    ev.Message,
		}).Error
	})
	if err != nil {
		return core.LogEvent{}, persistErr("append log", err)
	}
	return ev, nil
}

func (s *SQLStore) ListLogs(ctx context.Context, sessionID string, afterID int64, limit int) ([]core.LogEvent, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ? AND id > ?", sessionID, afterID).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []logRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, persistErr("list logs", err)
	}
	out := make([]core.LogEvent, len(recs))
	for i, r := range recs {
		out[i] = core.LogEvent{
			ID:         r.ID,
			SessionID:  r.SessionID,
			Time:       r.Time,
			Level:      core.LogLevel(r.Level),
			Symbol:     r.Symbol,
			StrategyID: r.StrategyID,
			PositionID: r.PositionID,
			Price:      r.Price,
			Message:    r.Message,
		}
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
