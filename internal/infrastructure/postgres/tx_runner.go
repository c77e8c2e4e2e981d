package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/sat-descarga-masiva/internal/application/descarga"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/repository"
)

var _ descarga.PackageTxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunPackage guarda un paquete y su metadata en la misma transacción.
func (r *TxRunner) RunPackage(ctx context.Context, fn func(
	packages repository.DownloadPackageRepository,
	metadata repository.MetadataRepository,
) error) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(NewDownloadPackageRepository(tx), NewMetadataRepository(tx))
	})
	if err != nil {
		return fmt.Errorf("transacción de paquete: %w", err)
	}
	return nil
}
