package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/store"
	storemodel "agentaudit/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type decisionModel = storemodel.DecisionRecordModel

// GormStore 用 Gorm + SQLite 持久化决策记录。
type GormStore struct {
	db *gorm.DB
}

var _ store.DecisionStore = (*GormStore)(nil)

// NewGormStore 打开（或创建）SQLite 文件并完成迁移。
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
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
	return NewGormStoreFromDB(db)
}

// NewGormStoreFromDB 复用外部初始化的 *gorm.DB。
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	if err := db.AutoMigrate(&decisionModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
		// while keeping lock contention low.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB so the commitment ledger can share the connection.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// Append 使用 ON CONFLICT DO NOTHING 一次性插入；未写入即视为 ID 冲突。
func (s *GormStore) Append(ctx context.Context, rec decision.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m, err := newDecisionModel(rec, time.Now())
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&m)
	if res.Error != nil {
		return fmt.Errorf("insert decision %s: %w", rec.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflictf("decision %s already recorded; records are immutable", rec.ID)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (decision.Record, error) {
	if s == nil || s.db == nil {
		return decision.Record{}, fmt.Errorf("gorm store 未初始化")
	}
	var m decisionModel
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decision.Record{}, apperr.NotFoundf("decision %s not found", id)
	}
	if err != nil {
		return decision.Record{}, err
	}
	return decisionModelToRecord(m)
}

func (s *GormStore) List(ctx context.Context, from, to int64) ([]decision.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	q := s.db.WithContext(ctx).Model(&decisionModel{})
	if from > 0 {
		q = q.Where("ts >= ?", from)
	}
	if to > 0 {
		q = q.Where("ts <= ?", to)
	}
	var models []decisionModel
	if err := q.Order("ts DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]decision.Record, 0, len(models))
	for _, m := range models {
		rec, err := decisionModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&decisionModel{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func newDecisionModel(rec decision.Record, now time.Time) (decisionModel, error) {
	enc := func(field string, v any) (datatypes.JSON, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", field, err)
		}
		return datatypes.JSON(b), nil
	}
	m := decisionModel{
		ID:                rec.ID,
		Timestamp:         rec.Timestamp,
		Type:              string(rec.Type),
		Confidence:        float64(rec.Confidence),
		Executed:          rec.Executed,
		HasError:          rec.HasError,
		RiskChange:        string(rec.RiskChange),
		APYImpact:         rec.APYImpact,
		ReasoningPreview:  rec.ReasoningPreview,
		FullReasoning:     rec.FullReasoning,
		PortfolioSnapshot: datatypes.JSON(rec.PortfolioSnapshot),
		StrategyConfig:    datatypes.JSON(rec.StrategyConfig),
		MarketConditions:  datatypes.JSON(rec.MarketConditions),
		CreatedAtUnix:     now.UnixMilli(),
	}
	var err error
	if m.Protocols, err = enc("protocols", nonNil(rec.Protocols)); err != nil {
		return m, err
	}
	if m.Assets, err = enc("assets", nonNil(rec.Assets)); err != nil {
		return m, err
	}
	if m.TxIDs, err = enc("txIds", nonNil(rec.TxIDs)); err != nil {
		return m, err
	}
	actions := rec.Actions
	if actions == nil {
		actions = []decision.Action{}
	}
	if m.Actions, err = enc("actions", actions); err != nil {
		return m, err
	}
	if m.RiskAnalysis, err = enc("riskAnalysis", rec.RiskAnalysis); err != nil {
		return m, err
	}
	return m, nil
}

func decisionModelToRecord(m decisionModel) (decision.Record, error) {
	rec := decision.Record{
		ID:               m.ID,
		Timestamp:        m.Timestamp,
		Type:             decision.Type(m.Type),
		Confidence:       decision.Confidence(m.Confidence),
		Executed:         m.Executed,
		HasError:         m.HasError,
		RiskChange:       decision.RiskChange(m.RiskChange),
		APYImpact:        m.APYImpact,
		ReasoningPreview: m.ReasoningPreview,
		FullReasoning:    m.FullReasoning,
		Protocols:        []string{},
		Assets:           []string{},
		Actions:          []decision.Action{},
		TxIDs:            []string{},
	}
	dec := func(field string, raw datatypes.JSON, dst any) error {
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode %s of decision %s: %w", field, m.ID, err)
		}
		return nil
	}
	if err := dec("protocols", m.Protocols, &rec.Protocols); err != nil {
		return rec, err
	}
	if err := dec("assets", m.Assets, &rec.Assets); err != nil {
		return rec, err
	}
	if err := dec("actions", m.Actions, &rec.Actions); err != nil {
		return rec, err
	}
	if err := dec("txIds", m.TxIDs, &rec.TxIDs); err != nil {
		return rec, err
	}
	if err := dec("riskAnalysis", m.RiskAnalysis, &rec.RiskAnalysis); err != nil {
		return rec, err
	}
	rec.PortfolioSnapshot = rawOrNil(m.PortfolioSnapshot)
	rec.StrategyConfig = rawOrNil(m.StrategyConfig)
	rec.MarketConditions = rawOrNil(m.MarketConditions)
	return rec, nil
}

func rawOrNil(raw datatypes.JSON) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), raw...))
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
