package sat

import (
	"github.com/jhoicas/sat-descarga-masiva/internal/infrastructure/sat/signer"
	"github.com/jhoicas/sat-descarga-masiva/pkg/config"
	"github.com/jhoicas/sat-descarga-masiva/pkg/logger"
	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

// NewProtocolClientFromConfig arma el cliente con los endpoints, el algoritmo de firma
// y los límites de transporte configurados. metrics puede ser nil.
func NewProtocolClientFromConfig(cfg config.SATConfig, metrics *Metrics, log *logger.Logger) (*ProtocolClient, error) {
	endpoints, err := pkgsat.EndpointsFor(cfg.Service)
	if err != nil {
		return nil, err
	}
	endpoints = endpoints.Merge(pkgsat.Endpoints{
		Authenticate: cfg.AuthenticateURL,
		Request:      cfg.RequestURL,
		Verify:       cfg.VerifyURL,
		Download:     cfg.DownloadURL,
	})
	profile, err := signer.ProfileByName(cfg.SignatureAlgorithm)
	if err != nil {
		return nil, err
	}
	return NewProtocolClient(endpoints, ProtocolOptions{
		Signer:    signer.NewSignatureService(profile),
		Transport: NewSOAPClient(cfg.Timeout(), cfg.MaxResponseBytes()),
		Metrics:   metrics,
		Logger:    log,
	}), nil
}
