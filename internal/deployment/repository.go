// Package deployment stores deployment records and reconciles the ones whose outcome was
// left open.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/tokenize/internal/domain"
)

// ErrNotFound indicates that the requested deployment was not found.
var ErrNotFound = errors.New("deployment not found")

// Repository defines persistent storage for deployment records.
type Repository interface {
	Save(ctx context.Context, d domain.Deployment) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Deployment, error)
	List(ctx context.Context, limit int) ([]domain.Deployment, error)
	ListUnresolved(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Deployment, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL deployment repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const selectColumns = `id, asset_code, issuer, distributor,
	total_value::text, total_supply::text, min_investment::text,
	phase, status, tx_hash, tx_sequence, tx_max_time, ledger,
	reason, detail, error_code, operation_index, created_at, updated_at`

// Save inserts the record or overwrites the stored one with the same ID.
func (r *PgRepository) Save(ctx context.Context, d domain.Deployment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO deployments (id, asset_code, issuer, distributor,
		     total_value, total_supply, min_investment,
		     phase, status, tx_hash, tx_sequence, tx_max_time, ledger,
		     reason, detail, error_code, operation_index, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric,
		     $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO UPDATE SET
		     issuer = $3, distributor = $4, phase = $8, status = $9,
		     tx_hash = $10, tx_sequence = $11, tx_max_time = $12, ledger = $13,
		     reason = $14, detail = $15, error_code = $16, operation_index = $17,
		     updated_at = $19`,
		d.ID, d.AssetCode, d.Issuer, d.Distributor,
		d.TotalValue.String(), d.TotalSupply.String(), d.MinInvestment.String(),
		string(d.Phase), string(d.Status), d.TransactionHash, d.TxSequence, d.TxMaxTime, d.Ledger,
		d.Reason, d.Detail, d.ErrorCode, d.OperationIndex, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving deployment %s: %w", d.ID, err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM deployments WHERE id = $1`, id)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting deployment %s: %w", id, err)
	}
	return &d, nil
}

func (r *PgRepository) List(ctx context.Context, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, "listing deployments",
		`SELECT `+selectColumns+` FROM deployments ORDER BY created_at DESC LIMIT $1`, limit)
}

// ListUnresolved returns submitted deployments whose outcome was never established:
// indeterminate ones, those stopped by the overall timeout and in-progress ones not
// updated since staleBefore.
func (r *PgRepository) ListUnresolved(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, "listing unresolved deployments",
		`SELECT `+selectColumns+` FROM deployments
		 WHERE tx_hash <> ''
		   AND (status = $1
		     OR (status = $2 AND reason = $3)
		     OR (status = $4 AND updated_at < $5))
		 ORDER BY created_at
		 LIMIT $6`,
		string(domain.StatusIndeterminate), string(domain.StatusFailed), domain.ReasonTimeout,
		string(domain.StatusInProgress), staleBefore, limit)
}

func (r *PgRepository) query(ctx context.Context, what, sql string, args ...any) ([]domain.Deployment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployments: %w", err)
	}
	return deployments, nil
}

func scanDeployment(row pgx.Row) (domain.Deployment, error) {
	var (
		d                               domain.Deployment
		phase, status                   string
		totalValue, totalSupply, minInv string
		opIndex                         *int32
	)
	err := row.Scan(&d.ID, &d.AssetCode, &d.Issuer, &d.Distributor,
		&totalValue, &totalSupply, &minInv,
		&phase, &status, &d.TransactionHash, &d.TxSequence, &d.TxMaxTime, &d.Ledger,
		&d.Reason, &d.Detail, &d.ErrorCode, &opIndex, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.Deployment{}, err
	}

	d.Phase = domain.Phase(phase)
	d.Status = domain.DeploymentStatus(status)
	d.TotalValue = domain.SafeParse(totalValue)
	d.TotalSupply = domain.SafeParse(totalSupply)
	d.MinInvestment = domain.SafeParse(minInv)
	if opIndex != nil {
		idx := int(*opIndex)
		d.OperationIndex = &idx
	}
	return d, nil
}
