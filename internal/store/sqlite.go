package store

import (
	"context"
	"errors"
	"fmt"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SQLStore is a durable Store on an embedded SQLite database through GORM.
// SQLite has no row locks, so owners are serialized in-process and each
// WithinUser call runs in one database transaction.
type SQLStore struct {
	db    *gorm.DB
	locks *keyedLocker
}

// OpenSQLite opens (and migrates) the SQLite database at dsn, e.g. a file
// path or "file:name?mode=memory&cache=shared".
func OpenSQLite(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an open GORM handle and migrates the schema.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// one writer at a time; concurrent sqlite writers fail with SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRecord{}, &positionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db, locks: newKeyedLocker()}, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, u *margin.UserAccount) error {
	unlock := s.locks.Lock(u.Owner)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRecord{}).Where("owner = ?", u.Owner).Count(&n).Error; err != nil {
			return fmt.Errorf("create user %s: %w", u.Owner, err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", common.ErrUserAlreadyExists, u.Owner)
		}
		if err := tx.Create(newUserRecord(u)).Error; err != nil {
			return fmt.Errorf("create user %s: %w", u.Owner, err)
		}
		return nil
	})
}

func (s *SQLStore) GetUser(ctx context.Context, owner string) (*margin.UserAccount, error) {
	return getUser(s.db.WithContext(ctx), owner)
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]*margin.UserAccount, error) {
	var rows []userRecord
	if err := s.db.WithContext(ctx).Order("owner").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*margin.UserAccount, 0, len(rows))
	for i := range rows {
		u, err := rows[i].account()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *SQLStore) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	return getPosition(s.db.WithContext(ctx), id, "")
}

func (s *SQLStore) ListPositions(ctx context.Context, filter Filter) ([]*position.Position, error) {
	return listPositions(s.db.WithContext(ctx), filter)
}

func (s *SQLStore) WithinUser(ctx context.Context, owner string, fn func(tx Tx) error) error {
	unlock := s.locks.Lock(owner)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqlTx{db: tx, owner: owner})
	})
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ========================================================

type sqlTx struct {
	db    *gorm.DB
	owner string
}

func (tx *sqlTx) User(_ context.Context) (*margin.UserAccount, error) {
	return getUser(tx.db, tx.owner)
}

func (tx *sqlTx) Position(_ context.Context, id string) (*position.Position, error) {
	return getPosition(tx.db, id, tx.owner)
}

func (tx *sqlTx) OpenPositions(_ context.Context) ([]*position.Position, error) {
	return listPositions(tx.db, Filter{Owner: tx.owner, OpenOnly: true})
}

func (tx *sqlTx) SaveUser(_ context.Context, u *margin.UserAccount) error {
	if u.Owner != tx.owner {
		return fmt.Errorf("%w: account %s outside transaction for %s", common.ErrUnauthorized, u.Owner, tx.owner)
	}
	if err := tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(newUserRecord(u)).Error; err != nil {
		return fmt.Errorf("save user %s: %w", u.Owner, err)
	}
	return nil
}

func (tx *sqlTx) SavePosition(_ context.Context, p *position.Position) error {
	if p.Owner != tx.owner {
		return fmt.Errorf("%w: position %s outside transaction for %s", common.ErrUnauthorized, p.ID, tx.owner)
	}
	if err := tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(newPositionRecord(p)).Error; err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

// ========================================================

func getUser(db *gorm.DB, owner string) (*margin.UserAccount, error) {
	var row userRecord
	err := db.Where("owner = ?", owner).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", common.ErrUserNotFound, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", owner, err)
	}
	return row.account()
}

func getPosition(db *gorm.DB, id, owner string) (*position.Position, error) {
	q := db.Where("id = ?", id)
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	var row positionRecord
	err := q.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", common.ErrPositionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return row.position()
}

func listPositions(db *gorm.DB, filter Filter) ([]*position.Position, error) {
	q := db.Model(&positionRecord{})
	if filter.Owner != "" {
		q = q.Where("owner = ?", filter.Owner)
	}
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.OpenOnly {
		q = q.Where("status = ?", position.StatusOpen.String())
	}

	var rows []positionRecord
	if err := q.Order("opened_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]*position.Position, 0, len(rows))
	for i := range rows {
		p, err := rows[i].position()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
