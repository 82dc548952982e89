package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/futures_trading_bot/internal/domain"
)

// SQLiteStore persists the workspace: strategy configuration rows and the
// watchlist. Saves rewrite the whole table, mirroring how the workspace is
// snapshotted on shutdown.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS watchlist (
			symbol TEXT NOT NULL,
			exchange TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS strategies (
			strategy_type TEXT NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			balance_pct REAL NOT NULL,
			take_profit REAL NOT NULL,
			stop_loss REAL NOT NULL,
			extra_params TEXT
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveStrategies(ctx context.Context, rows []domain.StrategyRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM strategies`); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO strategies (strategy_type, exchange, symbol, timeframe, balance_pct, take_profit, stop_loss, extra_params)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.StrategyType, r.Exchange, r.Symbol, r.Timeframe, r.BalancePct, r.TakeProfit, r.StopLoss, r.ExtraParams)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadStrategies(ctx context.Context) ([]domain.StrategyRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy_type, exchange, symbol, timeframe, balance_pct, take_profit, stop_loss, extra_params FROM strategies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StrategyRow
	for rows.Next() {
		var r domain.StrategyRow
		if err := rows.Scan(&r.StrategyType, &r.Exchange, &r.Symbol, &r.Timeframe, &r.BalancePct, &r.TakeProfit, &r.StopLoss, &r.ExtraParams); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveWatchlist(ctx context.Context, rows []domain.WatchlistRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watchlist`); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO watchlist (symbol, exchange) VALUES (?, ?)`, r.Symbol, r.Exchange); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadWatchlist(ctx context.Context) ([]domain.WatchlistRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, exchange FROM watchlist`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WatchlistRow
	for rows.Next() {
		var r domain.WatchlistRow
		if err := rows.Scan(&r.Symbol, &r.Exchange); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
