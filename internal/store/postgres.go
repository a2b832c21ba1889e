package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/perp-engine/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts are stored as NUMERIC(78,0) and exchanged as text so no
// precision is lost in either direction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func parseInt(col, v string) (sdkmath.Int, error) {
	i, ok := sdkmath.NewIntFromString(v)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("parse %s %q", col, v)
	}
	return i, nil
}

// parseInts parses NUMERIC text columns into their destinations.
func parseInts(cols []string, vals []string, dst []*sdkmath.Int) error {
	for i := range vals {
		v, err := parseInt(cols[i], vals[i])
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	return nil
}

func (s *PostgresStore) Position(ctx context.Context, id common.Hash) (model.Position, error) {
	p := model.ZeroPosition()
	var primary string
	var size, avg, borrow, funding, reserve, realized, oi string

	err := s.pool.QueryRow(ctx,
		`SELECT primary_account, sub_account_id, market_index,
		        size::TEXT, avg_entry_price::TEXT, entry_borrowing_rate::TEXT,
		        entry_funding_rate::TEXT, reserve_value::TEXT, last_increase_ts,
		        realized_pnl::TEXT, open_interest::TEXT
		 FROM positions WHERE id = $1`, id.Hex()).
		Scan(&primary, &p.SubAccountID, &p.MarketIndex,
			&size, &avg, &borrow,
			&funding, &reserve, &p.LastIncreaseTimestamp,
			&realized, &oi)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ZeroPosition(), nil
	}
	if err != nil {
		return model.Position{}, fmt.Errorf("get position %s: %w", id.Hex(), err)
	}

	p.PrimaryAccount = common.HexToAddress(primary)
	err = parseInts(
		[]string{"size", "avg_entry_price", "entry_borrowing_rate", "entry_funding_rate", "reserve_value", "realized_pnl", "open_interest"},
		[]string{size, avg, borrow, funding, reserve, realized, oi},
		[]*sdkmath.Int{&p.SizeE30, &p.AvgEntryPriceE30, &p.EntryBorrowingRate, &p.EntryFundingRate, &p.ReserveValueE30, &p.RealizedPnlE30, &p.OpenInterest},
	)
	if err != nil {
		return model.Position{}, fmt.Errorf("get position %s: %w", id.Hex(), err)
	}
	return p, nil
}

func (s *PostgresStore) PositionIDs(ctx context.Context, sub common.Address) ([]common.Hash, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position_id FROM position_index WHERE sub_account = $1 ORDER BY ordinal`, sub.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []common.Hash
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, common.HexToHash(id))
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Market(ctx context.Context, index uint64) (model.Market, error) {
	m := model.ZeroMarket()
	var longSize, longAvg, shortSize, shortAvg, funding, longOI, shortOI string

	err := s.pool.QueryRow(ctx,
		`SELECT long_size::TEXT, long_avg_price::TEXT, short_size::TEXT, short_avg_price::TEXT,
		        funding_rate::TEXT, last_funding_time,
		        long_open_interest::TEXT, short_open_interest::TEXT
		 FROM markets WHERE market_index = $1`, int64(index)).
		Scan(&longSize, &longAvg, &shortSize, &shortAvg,
			&funding, &m.LastFundingTime,
			&longOI, &shortOI)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ZeroMarket(), nil
	}
	if err != nil {
		return model.Market{}, fmt.Errorf("get market %d: %w", index, err)
	}

	err = parseInts(
		[]string{"long_size", "long_avg_price", "short_size", "short_avg_price", "funding_rate", "long_open_interest", "short_open_interest"},
		[]string{longSize, longAvg, shortSize, shortAvg, funding, longOI, shortOI},
		[]*sdkmath.Int{&m.LongPositionSize, &m.LongAvgPrice, &m.ShortPositionSize, &m.ShortAvgPrice, &m.CurrentFundingRate, &m.LongOpenInterest, &m.ShortOpenInterest},
	)
	if err != nil {
		return model.Market{}, fmt.Errorf("get market %d: %w", index, err)
	}
	return m, nil
}

func (s *PostgresStore) AssetClass(ctx context.Context, index uint8) (model.AssetClass, error) {
	ac := model.ZeroAssetClass()
	var reserve, sum string

	err := s.pool.QueryRow(ctx,
		`SELECT reserve_value::TEXT, sum_borrowing_rate::TEXT, last_borrowing_time
		 FROM asset_classes WHERE class_index = $1`, int16(index)).
		Scan(&reserve, &sum, &ac.LastBorrowingTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ZeroAssetClass(), nil
	}
	if err != nil {
		return model.AssetClass{}, fmt.Errorf("get asset class %d: %w", index, err)
	}

	err = parseInts(
		[]string{"reserve_value", "sum_borrowing_rate"},
		[]string{reserve, sum},
		[]*sdkmath.Int{&ac.ReserveValueE30, &ac.SumBorrowingRate},
	)
	if err != nil {
		return model.AssetClass{}, fmt.Errorf("get asset class %d: %w", index, err)
	}
	return ac, nil
}

func (s *PostgresStore) GlobalState(ctx context.Context) (model.GlobalState, error) {
	var reserve string
	err := s.pool.QueryRow(ctx, `SELECT reserve_value::TEXT FROM global_state WHERE id = 1`).Scan(&reserve)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ZeroGlobalState(), nil
	}
	if err != nil {
		return model.GlobalState{}, fmt.Errorf("get global state: %w", err)
	}

	v, err := parseInt("reserve_value", reserve)
	if err != nil {
		return model.GlobalState{}, fmt.Errorf("get global state: %w", err)
	}
	return model.GlobalState{ReserveValueE30: v}, nil
}

func (s *PostgresStore) TraderBalances(ctx context.Context, sub common.Address) ([]TokenBalance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token, amount::TEXT FROM trader_balances WHERE sub_account = $1 ORDER BY ordinal`, sub.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TokenBalance
	for rows.Next() {
		var token, amount string
		if err := rows.Scan(&token, &amount); err != nil {
			return nil, err
		}
		v, err := parseInt("amount", amount)
		if err != nil {
			return nil, err
		}
		out = append(out, TokenBalance{Token: common.HexToAddress(token), Amount: v})
	}
	return out, rows.Err()
}

func (s *PostgresStore) PoolBalance(ctx context.Context, kind model.PoolKind, token common.Address) (sdkmath.Int, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM pools WHERE kind = $1 AND token = $2`, string(kind), token.Hex()).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return sdkmath.ZeroInt(), nil
	}
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("get pool %s/%s: %w", kind, token.Hex(), err)
	}
	return parseInt("amount", amount)
}

func (s *PostgresStore) BadDebt(ctx context.Context, sub common.Address) (sdkmath.Int, error) {
	var amount string
	err := s.pool.QueryRow(ctx, `SELECT amount::TEXT FROM bad_debt WHERE sub_account = $1`, sub.Hex()).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return sdkmath.ZeroInt(), nil
	}
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("get bad debt %s: %w", sub.Hex(), err)
	}
	return parseInt("amount", amount)
}

func (s *PostgresStore) SubAccounts(ctx context.Context) ([]common.Address, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT sub_account FROM position_index ORDER BY sub_account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var sub string
		if err := rows.Scan(&sub); err != nil {
			return nil, err
		}
		out = append(out, common.HexToAddress(sub))
	}
	return out, rows.Err()
}

// Apply writes a change set in a single database transaction.
func (s *PostgresStore) Apply(ctx context.Context, cs *ChangeSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := applyPositions(ctx, tx, cs); err != nil {
		return err
	}
	if err := applyAggregates(ctx, tx, cs); err != nil {
		return err
	}
	if err := applyCollateral(ctx, tx, cs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func applyPositions(ctx context.Context, tx pgx.Tx, cs *ChangeSet) error {
	for _, pc := range cs.Positions {
		if pc.Removed {
			if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE id = $1`, pc.ID.Hex()); err != nil {
				return fmt.Errorf("delete position %s: %w", pc.ID.Hex(), err)
			}
			continue
		}
		p := pc.Position
		_, err := tx.Exec(ctx,
			`INSERT INTO positions (id, sub_account, primary_account, sub_account_id, market_index,
			                        size, avg_entry_price, entry_borrowing_rate, entry_funding_rate,
			                        reserve_value, last_increase_ts, realized_pnl, open_interest)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
			         $10::NUMERIC, $11, $12::NUMERIC, $13::NUMERIC)
			 ON CONFLICT (id) DO UPDATE SET
			     size = EXCLUDED.size,
			     avg_entry_price = EXCLUDED.avg_entry_price,
			     entry_borrowing_rate = EXCLUDED.entry_borrowing_rate,
			     entry_funding_rate = EXCLUDED.entry_funding_rate,
			     reserve_value = EXCLUDED.reserve_value,
			     last_increase_ts = EXCLUDED.last_increase_ts,
			     realized_pnl = EXCLUDED.realized_pnl,
			     open_interest = EXCLUDED.open_interest`,
			pc.ID.Hex(), pc.SubAccount.Hex(), p.PrimaryAccount.Hex(), int16(p.SubAccountID), int64(p.MarketIndex),
			p.SizeE30.String(), p.AvgEntryPriceE30.String(), p.EntryBorrowingRate.String(), p.EntryFundingRate.String(),
			p.ReserveValueE30.String(), p.LastIncreaseTimestamp, p.RealizedPnlE30.String(), p.OpenInterest.String(),
		)
		if err != nil {
			return fmt.Errorf("upsert position %s: %w", pc.ID.Hex(), err)
		}
	}

	for sub, ids := range cs.PositionIndex {
		if _, err := tx.Exec(ctx, `DELETE FROM position_index WHERE sub_account = $1`, sub.Hex()); err != nil {
			return fmt.Errorf("reset position index %s: %w", sub.Hex(), err)
		}
		for i, id := range ids {
			_, err := tx.Exec(ctx,
				`INSERT INTO position_index (sub_account, ordinal, position_id) VALUES ($1, $2, $3)`,
				sub.Hex(), i, id.Hex())
			if err != nil {
				return fmt.Errorf("insert position index %s: %w", sub.Hex(), err)
			}
		}
	}
	return nil
}

func applyAggregates(ctx context.Context, tx pgx.Tx, cs *ChangeSet) error {
	for idx, m := range cs.Markets {
		_, err := tx.Exec(ctx,
			`INSERT INTO markets (market_index, long_size, long_avg_price, short_size, short_avg_price,
			                      funding_rate, last_funding_time, long_open_interest, short_open_interest)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9::NUMERIC)
			 ON CONFLICT (market_index) DO UPDATE SET
			     long_size = EXCLUDED.long_size,
			     long_avg_price = EXCLUDED.long_avg_price,
			     short_size = EXCLUDED.short_size,
			     short_avg_price = EXCLUDED.short_avg_price,
			     funding_rate = EXCLUDED.funding_rate,
			     last_funding_time = EXCLUDED.last_funding_time,
			     long_open_interest = EXCLUDED.long_open_interest,
			     short_open_interest = EXCLUDED.short_open_interest`,
			int64(idx), m.LongPositionSize.String(), m.LongAvgPrice.String(),
			m.ShortPositionSize.String(), m.ShortAvgPrice.String(),
			m.CurrentFundingRate.String(), m.LastFundingTime,
			m.LongOpenInterest.String(), m.ShortOpenInterest.String(),
		)
		if err != nil {
			return fmt.Errorf("upsert market %d: %w", idx, err)
		}
	}

	for idx, ac := range cs.AssetClasses {
		_, err := tx.Exec(ctx,
			`INSERT INTO asset_classes (class_index, reserve_value, sum_borrowing_rate, last_borrowing_time)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
			 ON CONFLICT (class_index) DO UPDATE SET
			     reserve_value = EXCLUDED.reserve_value,
			     sum_borrowing_rate = EXCLUDED.sum_borrowing_rate,
			     last_borrowing_time = EXCLUDED.last_borrowing_time`,
			int16(idx), ac.ReserveValueE30.String(), ac.SumBorrowingRate.String(), ac.LastBorrowingTime,
		)
		if err != nil {
			return fmt.Errorf("upsert asset class %d: %w", idx, err)
		}
	}

	if cs.Global != nil {
		_, err := tx.Exec(ctx,
			`INSERT INTO global_state (id, reserve_value) VALUES (1, $1::NUMERIC)
			 ON CONFLICT (id) DO UPDATE SET reserve_value = EXCLUDED.reserve_value`,
			cs.Global.ReserveValueE30.String(),
		)
		if err != nil {
			return fmt.Errorf("upsert global state: %w", err)
		}
	}
	return nil
}

func applyCollateral(ctx context.Context, tx pgx.Tx, cs *ChangeSet) error {
	for sub, list := range cs.Balances {
		if _, err := tx.Exec(ctx, `DELETE FROM trader_balances WHERE sub_account = $1`, sub.Hex()); err != nil {
			return fmt.Errorf("reset balances %s: %w", sub.Hex(), err)
		}
		for i, tb := range list {
			_, err := tx.Exec(ctx,
				`INSERT INTO trader_balances (sub_account, ordinal, token, amount) VALUES ($1, $2, $3, $4::NUMERIC)`,
				sub.Hex(), i, tb.Token.Hex(), tb.Amount.String())
			if err != nil {
				return fmt.Errorf("insert balance %s/%s: %w", sub.Hex(), tb.Token.Hex(), err)
			}
		}
	}

	for key, amount := range cs.Pools {
		_, err := tx.Exec(ctx,
			`INSERT INTO pools (kind, token, amount) VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (kind, token) DO UPDATE SET amount = EXCLUDED.amount`,
			string(key.Kind), key.Token.Hex(), amount.String())
		if err != nil {
			return fmt.Errorf("upsert pool %s/%s: %w", key.Kind, key.Token.Hex(), err)
		}
	}

	for sub, amount := range cs.BadDebt {
		_, err := tx.Exec(ctx,
			`INSERT INTO bad_debt (sub_account, amount) VALUES ($1, $2::NUMERIC)
			 ON CONFLICT (sub_account) DO UPDATE SET amount = EXCLUDED.amount`,
			sub.Hex(), amount.String())
		if err != nil {
			return fmt.Errorf("upsert bad debt %s: %w", sub.Hex(), err)
		}
	}
	return nil
}
