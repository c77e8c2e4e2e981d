package descarga

import (
	"context"

	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/repository"
	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// SessionClient puerto hacia el cliente de sesión del SAT (sat.SessionClient).
// Cada método recibe la sesión actual y devuelve la siguiente.
type SessionClient interface {
	Authenticate(ctx context.Context, s domainsat.Session, cred domainsat.Credential) (domainsat.Session, error)
	RequestDownload(ctx context.Context, s domainsat.Session, cred domainsat.Credential, kind domainsat.RequestKind, attrs map[string]string) (domainsat.Session, error)
	Verify(ctx context.Context, s domainsat.Session, cred domainsat.Credential) (domainsat.Session, *domainsat.VerificationStatus, error)
	Retrieve(ctx context.Context, s domainsat.Session, cred domainsat.Credential, packageID string) (domainsat.Session, *domainsat.Package, error)
}

// PackageReader extrae la metadata de un paquete (sat.PackageReader).
type PackageReader interface {
	Metadata(content []byte, requestID string) ([]*entity.CFDIMetadata, error)
}

// ReportGenerator genera el PDF de metadata (pdf.MarotoReportGenerator).
type ReportGenerator interface {
	MetadataReport(req *entity.DownloadRequest, records []*entity.CFDIMetadata) ([]byte, error)
}

// PackageTxRunner guarda un paquete y su metadata de forma atómica (postgres.TxRunner).
type PackageTxRunner interface {
	RunPackage(ctx context.Context, fn func(
		packages repository.DownloadPackageRepository,
		metadata repository.MetadataRepository,
	) error) error
}
