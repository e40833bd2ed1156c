package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"orbwatch/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	LogSnapshot(ctx context.Context, rec model.SnapshotRecord) error
	LogOpportunity(ctx context.Context, rec model.OpportunityRecord) error
	RecentOpportunities(ctx context.Context, market string, limit int) ([]model.OpportunityRecord, error)
}

// PostgresRepository implements Repository backed by a pgx connection pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// Migrate creates the tables if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS rate_snapshots (
		id BIGSERIAL PRIMARY KEY,
		source VARCHAR(50) NOT NULL,
		market VARCHAR(100) NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		pair_count INT NOT NULL,
		currency_count INT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS opportunities (
		id UUID PRIMARY KEY,
		market VARCHAR(100) NOT NULL,
		start_currency VARCHAR(100) NOT NULL,
		start_amount NUMERIC(20, 8) NOT NULL,
		final_amount NUMERIC(20, 8) NOT NULL,
		profit_pct NUMERIC(20, 8) NOT NULL,
		path TEXT NOT NULL,
		found_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`
	_, err := r.Pool.Exec(ctx, ddl)
	return err
}

// LogSnapshot records one fetched snapshot.
func (r *PostgresRepository) LogSnapshot(ctx context.Context, rec model.SnapshotRecord) error {
	const query = `
	INSERT INTO rate_snapshots (source, market, captured_at, pair_count, currency_count)
	VALUES ($1, $2, $3, $4, $5)`
	_, err := r.Pool.Exec(ctx, query,
		rec.Source, rec.Market, rec.CapturedAt, rec.PairCount, rec.CurrencyCount)
	return err
}

// LogOpportunity records one profitable cycle found by a scheduled scan.
func (r *PostgresRepository) LogOpportunity(ctx context.Context, rec model.OpportunityRecord) error {
	const query = `
	INSERT INTO opportunities (id, market, start_currency, start_amount, final_amount, profit_pct, path, found_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.Pool.Exec(ctx, query,
		rec.ID, rec.Market, rec.StartCurrency, rec.StartAmount,
		rec.FinalAmount, rec.ProfitPct, rec.Path, rec.FoundAt)
	return err
}

// RecentOpportunities returns the most recently found opportunities for a
// market, newest first.
func (r *PostgresRepository) RecentOpportunities(ctx context.Context, market string, limit int) ([]model.OpportunityRecord, error) {
	const query = `
	SELECT id, market, start_currency, start_amount, final_amount, profit_pct, path, found_at
	FROM opportunities
	WHERE market = $1
	ORDER BY found_at DESC
	LIMIT $2`
	rows, err := r.Pool.Query(ctx, query, market, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.OpportunityRecord
	for rows.Next() {
		var rec model.OpportunityRecord
		if err := rows.Scan(&rec.ID, &rec.Market, &rec.StartCurrency, &rec.StartAmount,
			&rec.FinalAmount, &rec.ProfitPct, &rec.Path, &rec.FoundAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
