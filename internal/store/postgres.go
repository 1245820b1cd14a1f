package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
)

// Schema creates the Postgres tables. Unsigned amounts use NUMERIC(20,0).
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	owner             TEXT PRIMARY KEY,
	total_collateral  NUMERIC(20,0) NOT NULL DEFAULT 0,
	locked_collateral NUMERIC(20,0) NOT NULL DEFAULT 0,
	position_count    BIGINT NOT NULL DEFAULT 0,
	total_pnl         BIGINT NOT NULL DEFAULT 0,
	created_at        BIGINT NOT NULL,
	last_activity     BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id                TEXT PRIMARY KEY,
	owner             TEXT NOT NULL REFERENCES users(owner),
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	status            TEXT NOT NULL,
	size              NUMERIC(20,0) NOT NULL,
	entry_price       NUMERIC(20,0) NOT NULL,
	mark_price        NUMERIC(20,0) NOT NULL DEFAULT 0,
	close_price       NUMERIC(20,0) NOT NULL DEFAULT 0,
	liquidation_price NUMERIC(20,0) NOT NULL DEFAULT 0,
	leverage          INTEGER NOT NULL,
	maintenance_rate  NUMERIC NOT NULL,
	margin            NUMERIC(20,0) NOT NULL,
	unrealized_pnl    BIGINT NOT NULL DEFAULT 0,
	realized_pnl      BIGINT NOT NULL DEFAULT 0,
	opened_at         BIGINT NOT NULL,
	closed_at         BIGINT NOT NULL DEFAULT 0,
	updated_at        BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS positions_owner_idx ON positions (owner);
CREATE INDEX IF NOT EXISTS positions_symbol_status_idx ON positions (symbol, status);
`

const userColumns = `owner, total_collateral::TEXT, locked_collateral::TEXT, position_count, total_pnl, created_at, last_activity`

const positionColumns = `id, owner, symbol, side, status,
	size::TEXT, entry_price::TEXT, mark_price::TEXT, close_price::TEXT, liquidation_price::TEXT,
	leverage, maintenance_rate::TEXT, margin::TEXT,
	unrealized_pnl, realized_pnl, opened_at, closed_at, updated_at`

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	pgQuerier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// PostgresStore implements Store on PostgreSQL. WithinUser takes a
// SELECT ... FOR UPDATE row lock on the owner's users row before anything
// else runs, so owners are serialized across every engine process sharing
// the database.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *margin.UserAccount) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO users (owner, total_collateral, locked_collateral, position_count, total_pnl, created_at, last_activity)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5, $6, $7)
		 ON CONFLICT (owner) DO NOTHING`,
		u.Owner, u64(u.TotalCollateral).String(), u64(u.LockedCollateral).String(),
		int64(u.PositionCount), u.TotalPnL, u.CreatedAt, u.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.Owner, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", common.ErrUserAlreadyExists, u.Owner)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, owner string) (*margin.UserAccount, error) {
	return pgGetUser(ctx, s.pool, owner)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*margin.UserAccount, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*margin.UserAccount
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*position.Position, error) {
	return pgGetPosition(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListPositions(ctx context.Context, filter Filter) ([]*position.Position, error) {
	return pgListPositions(ctx, s.pool, filter)
}

func (s *PostgresStore) WithinUser(ctx context.Context, owner string, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", owner, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Every read below runs under the owner's row lock.
	if err := lockUser(ctx, tx, owner); err != nil {
		return err
	}
	if err := fn(&pgTx{tx: tx, owner: owner}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", owner, err)
	}
	return nil
}

func lockUser(ctx context.Context, q pgQuerier, owner string) error {
	var locked string
	err := q.QueryRow(ctx, `SELECT owner FROM users WHERE owner = $1 FOR UPDATE`, owner).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", common.ErrUserNotFound, owner)
	}
	if err != nil {
		return fmt.Errorf("lock user %s: %w", owner, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ========================================================

type pgTx struct {
	tx    pgx.Tx
	owner string
}

func (t *pgTx) User(ctx context.Context) (*margin.UserAccount, error) {
	return pgGetUser(ctx, t.tx, t.owner)
}

func (t *pgTx) Position(ctx context.Context, id string) (*position.Position, error) {
	return pgGetPosition(ctx, t.tx, id, t.owner)
}

func (t *pgTx) OpenPositions(ctx context.Context) ([]*position.Position, error) {
	return pgListPositions(ctx, t.tx, Filter{Owner: t.owner, OpenOnly: true})
}

func (t *pgTx) SaveUser(ctx context.Context, u *margin.UserAccount) error {
	if u.Owner != t.owner {
		return fmt.Errorf("%w: account %s outside transaction for %s", common.ErrUnauthorized, u.Owner, t.owner)
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE users SET total_collateral = $2::NUMERIC, locked_collateral = $3::NUMERIC,
		        position_count = $4, total_pnl = $5, last_activity = $6
		 WHERE owner = $1`,
		u.Owner, u64(u.TotalCollateral).String(), u64(u.LockedCollateral).String(),
		int64(u.PositionCount), u.TotalPnL, u.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.Owner, err)
	}
	return nil
}

func (t *pgTx) SavePosition(ctx context.Context, p *position.Position) error {
	if p.Owner != t.owner {
		return fmt.Errorf("%w: position %s outside transaction for %s", common.ErrUnauthorized, p.ID, t.owner)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (id, owner, symbol, side, status, size, entry_price, mark_price, close_price,
		        liquidation_price, leverage, maintenance_rate, margin, unrealized_pnl, realized_pnl,
		        opened_at, closed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		        $10::NUMERIC, $11, $12::NUMERIC, $13::NUMERIC, $14, $15, $16, $17, $18)
		 ON CONFLICT (id) DO UPDATE SET
		        status = EXCLUDED.status, size = EXCLUDED.size, mark_price = EXCLUDED.mark_price,
		        close_price = EXCLUDED.close_price, liquidation_price = EXCLUDED.liquidation_price,
		        maintenance_rate = EXCLUDED.maintenance_rate, margin = EXCLUDED.margin,
		        unrealized_pnl = EXCLUDED.unrealized_pnl, realized_pnl = EXCLUDED.realized_pnl,
		        closed_at = EXCLUDED.closed_at, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Owner, p.Symbol, p.Side.String(), p.Status.String(),
		u64(p.Size).String(), u64(p.EntryPrice).String(), u64(p.MarkPrice).String(), u64(p.ClosePrice).String(),
		u64(p.LiquidationPrice).String(), int32(p.Leverage), p.MaintenanceRate.String(), u64(p.Margin).String(),
		p.UnrealizedPnL, p.RealizedPnL, p.OpenedAt, p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

// ========================================================

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgScanner interface {
	Scan(dest ...any) error
}

func pgGetUser(ctx context.Context, q pgQuerier, owner string) (*margin.UserAccount, error) {
	u, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE owner = $1`, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrUserNotFound, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", owner, err)
	}
	return u, nil
}

func pgGetPosition(ctx context.Context, q pgQuerier, id, owner string) (*position.Position, error) {
	sql := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`
	args := []any{id}
	if owner != "" {
		sql += ` AND owner = $2`
		args = append(args, owner)
	}
	p, err := scanPosition(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrPositionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func pgListPositions(ctx context.Context, q pgQuerier, filter Filter) ([]*position.Position, error) {
	var (
		where []string
		args  []any
	)
	if filter.Owner != "" {
		args = append(args, filter.Owner)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if filter.OpenOnly {
		args = append(args, position.StatusOpen.String())
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	sql := `SELECT ` + positionColumns + ` FROM positions`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY opened_at, id`

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []*position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("list positions: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanUser(row pgScanner) (*margin.UserAccount, error) {
	var (
		r             userRecord
		total, locked string
		count         int64
	)
	if err := row.Scan(&r.Owner, &total, &locked, &count, &r.TotalPnL, &r.CreatedAt, &r.LastActivity); err != nil {
		return nil, err
	}
	var err error
	if r.TotalCollateral, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	if r.LockedCollateral, err = decimal.NewFromString(locked); err != nil {
		return nil, err
	}
	r.PositionCount = uint32(count)
	return r.account()
}

func scanPosition(row pgScanner) (*position.Position, error) {
	var (
		r        positionRecord
		leverage int32
		nums     [7]string
	)
	err := row.Scan(&r.ID, &r.Owner, &r.Symbol, &r.Side, &r.Status,
		&nums[0], &nums[1], &nums[2], &nums[3], &nums[4],
		&leverage, &nums[5], &nums[6],
		&r.UnrealizedPnL, &r.RealizedPnL, &r.OpenedAt, &r.ClosedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	dsts := []*decimal.Decimal{&r.Size, &r.EntryPrice, &r.MarkPrice, &r.ClosePrice, &r.LiquidationPrice, &r.MaintenanceRate, &r.Margin}
	for i, dst := range dsts {
		if *dst, err = decimal.NewFromString(nums[i]); err != nil {
			return nil, fmt.Errorf("position %s: %w", r.ID, err)
		}
	}
	r.Leverage = uint16(leverage)
	return r.position()
}
