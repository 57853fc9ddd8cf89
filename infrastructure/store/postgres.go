package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/priceflow/pam-engine/internal/domain"
)

// PGStore is a Postgres-backed BatchStore using a pgx connection pool.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore connects to Postgres and returns a store.
// Close the store when done to release the pool.
func NewPGStore(ctx context.Context, connString string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("batchstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("batchstore: ping: %w", err)
	}
	return &PGStore{db: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PGStore) Close() { s.db.Close() }

// Migrate applies the store schema. Safe to run repeatedly.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("batchstore: migrate: %w", err)
	}
	return nil
}

// FindOrCreateBatch implements ports.BatchStore. The insert races on
// the partial unique index over non-failed batches; the loser of the
// race reads back the winner's row, so concurrent submissions of the
// same inputs always observe a single batch.
func (s *PGStore) FindOrCreateBatch(ctx context.Context, batch *domain.CalcBatch) (*domain.CalcBatch, bool, error) {
	ct, err := s.db.Exec(ctx,
		`INSERT INTO calc_batches (id, tenant_id, pam_id, contract_id, inputs_hash, status)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		 ON CONFLICT (tenant_id, pam_id, inputs_hash) WHERE status <> 'FAILED' DO NOTHING`,
		batch.ID, batch.TenantID, batch.PAMID, batch.ContractID, batch.InputsHash, string(batch.Status),
	)
	if err != nil {
		return nil, false, fmt.Errorf("batchstore: insert batch: %w", err)
	}
	if ct.RowsAffected() == 1 {
		created := *batch
		return &created, true, nil
	}

	existing, err := s.findByInputs(ctx, batch.TenantID, batch.PAMID, batch.InputsHash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// findByInputs reads the non-failed batch for an idempotency key.
func (s *PGStore) findByInputs(ctx context.Context, tenantID, pamID, hash string) (*domain.CalcBatch, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, pam_id, COALESCE(contract_id, ''), inputs_hash, status,
		        succeeded, failed, started_at, completed_at, COALESCE(error, '')
		   FROM calc_batches
		  WHERE tenant_id = $1 AND pam_id = $2 AND inputs_hash = $3 AND status <> 'FAILED'`,
		tenantID, pamID, hash)
	return scanBatch(row)
}

// GetBatch implements ports.BatchStore.
func (s *PGStore) GetBatch(ctx context.Context, id string) (*domain.CalcBatch, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, pam_id, COALESCE(contract_id, ''), inputs_hash, status,
		        succeeded, failed, started_at, completed_at, COALESCE(error, '')
		   FROM calc_batches WHERE id = $1`, id)
	return scanBatch(row)
}

func scanBatch(row pgx.Row) (*domain.CalcBatch, error) {
	var b domain.CalcBatch
	var status string
	err := row.Scan(&b.ID, &b.TenantID, &b.PAMID, &b.ContractID, &b.InputsHash, &status,
		&b.Succeeded, &b.Failed, &b.StartedAt, &b.CompletedAt, &b.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("batchstore: scan batch: %w", err)
	}
	b.Status = domain.BatchStatus(status)
	return &b, nil
}

// UpdateBatch implements ports.BatchStore.
func (s *PGStore) UpdateBatch(ctx context.Context, batch *domain.CalcBatch) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE calc_batches
		    SET status = $1, succeeded = $2, failed = $3,
		        started_at = $4, completed_at = $5, error = NULLIF($6, '')
		  WHERE id = $7`,
		string(batch.Status), batch.Succeeded, batch.Failed,
		batch.StartedAt, batch.CompletedAt, batch.Error, batch.ID,
	)
	if err != nil {
		return fmt.Errorf("batchstore: update batch: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrBatchNotFound
	}
	return nil
}

// SaveResults implements ports.BatchStore. Results are append-only;
// re-running a page after a crash leaves existing rows untouched.
func (s *PGStore) SaveResults(ctx context.Context, results []domain.CalcResult) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		contributions, err := json.Marshal(r.Contributions)
		if err != nil {
			return fmt.Errorf("batchstore: marshal contributions for item %s: %w", r.ItemID, err)
		}
		batch.Queue(
			`INSERT INTO calc_results
			     (batch_id, item_id, adjusted_price, adjusted_currency, contributions, effective_date, error)
			 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''))
			 ON CONFLICT (batch_id, item_id) DO NOTHING`,
			r.BatchID, r.ItemID, r.AdjustedPrice, r.AdjustedCurrency,
			contributions, r.EffectiveDate, r.Error,
		)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batchstore: insert result: %w", err)
		}
	}
	return nil
}

// ListResults implements ports.BatchStore.
func (s *PGStore) ListResults(ctx context.Context, batchID string) ([]domain.CalcResult, error) {
	rows, err := s.db.Query(ctx,
		`SELECT batch_id, item_id, COALESCE(adjusted_price, 0), COALESCE(adjusted_currency, ''),
		        COALESCE(contributions, '{}'::jsonb), effective_date, COALESCE(error, '')
		   FROM calc_results WHERE batch_id = $1 ORDER BY created_at, item_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("batchstore: list results: %w", err)
	}
	defer rows.Close()

	results := []domain.CalcResult{}
	for rows.Next() {
		var r domain.CalcResult
		var contributions []byte
		if err := rows.Scan(&r.BatchID, &r.ItemID, &r.AdjustedPrice, &r.AdjustedCurrency,
			&contributions, &r.EffectiveDate, &r.Error); err != nil {
			return nil, fmt.Errorf("batchstore: scan result: %w", err)
		}
		if len(contributions) > 0 {
			r.Contributions = make(map[string]decimal.Decimal)
			if err := json.Unmarshal(contributions, &r.Contributions); err != nil {
				return nil, fmt.Errorf("batchstore: unmarshal contributions: %w", err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batchstore: rows: %w", err)
	}
	return results, nil
}
