package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/sat-descarga-masiva/internal/domain"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/repository"
)

var _ repository.DownloadPackageRepository = (*DownloadPackageRepo)(nil)

// DownloadPackageRepo paquetes zip descargados. UNIQUE (request_id, package_id).
type DownloadPackageRepo struct {
	q Querier
}

// NewDownloadPackageRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDownloadPackageRepository(q Querier) *DownloadPackageRepo {
	return &DownloadPackageRepo{q: q}
}

// Save persiste el paquete; domain.ErrDuplicate si ya estaba guardado.
func (r *DownloadPackageRepo) Save(ctx context.Context, pkg *entity.DownloadPackage) error {
	query := `
		INSERT INTO download_packages (id, request_id, package_id, content, size, downloaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, query, pkg.ID, pkg.RequestID, pkg.PackageID, pkg.Content, pkg.Size, pkg.DownloadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert download package: %w", err)
	}
	return nil
}

// Exists indica si el paquete ya se descargó.
func (r *DownloadPackageRepo) Exists(ctx context.Context, requestID, packageID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM download_packages WHERE request_id = $1 AND package_id = $2)`,
		requestID, packageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists download package: %w", err)
	}
	return exists, nil
}

// Get paquete con contenido; nil si no existe.
func (r *DownloadPackageRepo) Get(ctx context.Context, requestID, packageID string) (*entity.DownloadPackage, error) {
	query := `
		SELECT id, request_id, package_id, content, size, downloaded_at
		FROM download_packages WHERE request_id = $1 AND package_id = $2`
	var p entity.DownloadPackage
	err := r.q.QueryRow(ctx, query, requestID, packageID).Scan(
		&p.ID, &p.RequestID, &p.PackageID, &p.Content, &p.Size, &p.DownloadedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get download package: %w", err)
	}
	return &p, nil
}

// ListByRequest paquetes de la solicitud sin el contenido.
func (r *DownloadPackageRepo) ListByRequest(ctx context.Context, requestID string) ([]*entity.DownloadPackage, error) {
	query := `
		SELECT id, request_id, package_id, size, downloaded_at
		FROM download_packages WHERE request_id = $1 ORDER BY downloaded_at`
	rows, err := r.q.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list download packages: %w", err)
	}
	defer rows.Close()

	var list []*entity.DownloadPackage
	for rows.Next() {
		var p entity.DownloadPackage
		if err := rows.Scan(&p.ID, &p.RequestID, &p.PackageID, &p.Size, &p.DownloadedAt); err != nil {
			return nil, fmt.Errorf("scan download package: %w", err)
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}
