package repository

import (
	"context"

	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
)

// DownloadRequestRepository puerto de persistencia de solicitudes de descarga.
type DownloadRequestRepository interface {
	Create(ctx context.Context, req *entity.DownloadRequest) error
	// Update actualiza estado, IdSolicitud, sondeos y paquetes.
	Update(ctx context.Context, req *entity.DownloadRequest) error
	GetByID(ctx context.Context, id string) (*entity.DownloadRequest, error)
	ListByCompany(ctx context.Context, companyID string, limit, offset int) ([]*entity.DownloadRequest, error)
}

// DownloadPackageRepository puerto de persistencia de paquetes descargados.
type DownloadPackageRepository interface {
	// Save falla con domain.ErrDuplicate si el paquete ya existe.
	Save(ctx context.Context, pkg *entity.DownloadPackage) error
	Exists(ctx context.Context, requestID, packageID string) (bool, error)
	Get(ctx context.Context, requestID, packageID string) (*entity.DownloadPackage, error)
	ListByRequest(ctx context.Context, requestID string) ([]*entity.DownloadPackage, error)
}

// MetadataRepository puerto de persistencia de la metadata de CFDI.
type MetadataRepository interface {
	// SaveBatch inserta o actualiza por UUID.
	SaveBatch(ctx context.Context, records []*entity.CFDIMetadata) error
	ListByRequest(ctx context.Context, requestID string) ([]*entity.CFDIMetadata, error)
}
