package descarga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/sat-descarga-masiva/internal/domain"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/repository"
	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
	"github.com/jhoicas/sat-descarga-masiva/pkg/logger"
	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

// ErrStillProcessing la solicitud no terminó dentro del número de sondeos permitido.
var ErrStillProcessing = errors.New("la solicitud sigue en proceso en el SAT")

// Config política de sondeo. Los reintentos viven aquí, nunca en el cliente de protocolo.
type Config struct {
	Service      string        // cfdi | retenciones
	PollInterval time.Duration // espera entre verificaciones
	MaxAttempts  int           // verificaciones máximas en WaitUntilReady
}

func (c Config) withDefaults() Config {
	if c.Service == "" {
		c.Service = pkgsat.ServiceCFDI
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	return c
}

// Service orquesta el ciclo de una descarga masiva persistida:
//
//	Start → Poll / WaitUntilReady → DownloadPackages → Report
//
// La FIEL llega en cada llamada y no se guarda. El token se conserva en memoria por
// empresa y RFC mientras esté vigente.
type Service struct {
	requests repository.DownloadRequestRepository
	packages repository.DownloadPackageRepository
	metadata repository.MetadataRepository
	tx       PackageTxRunner
	client   SessionClient
	reader   PackageReader
	reports  ReportGenerator
	cfg      Config
	log      *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	tokens map[string]domainsat.SessionToken
}

// NewService construye el orquestador. tx, reader y reports pueden ser nil; sin tx el
// paquete y su metadata se guardan por separado.
func NewService(
	requests repository.DownloadRequestRepository,
	packages repository.DownloadPackageRepository,
	metadata repository.MetadataRepository,
	tx PackageTxRunner,
	client SessionClient,
	reader PackageReader,
	reports ReportGenerator,
	cfg Config,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		requests: requests,
		packages: packages,
		metadata: metadata,
		tx:       tx,
		client:   client,
		reader:   reader,
		reports:  reports,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
		sleep:    sleepContext,
		tokens:   map[string]domainsat.SessionToken{},
	}
}

// ── Solicitud ─────────────────────────────────────────────────────────────────

// Start registra la solicitud y la envía al SAT. Nunca se reintenta: si el resultado
// es incierto la solicitud queda en AMBIGUOUS para que un operador decida.
func (s *Service) Start(ctx context.Context, companyID string, cred domainsat.Credential, f domainsat.DownloadFilter) (*entity.DownloadRequest, error) {
	if !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: tipo de descarga %q", domain.ErrInvalidInput, f.Kind)
	}
	if f.RequesterRFC == "" {
		f.RequesterRFC = cred.RFC
	}
	f.RequesterRFC = pkgsat.NormalizeRFC(f.RequesterRFC)
	if cred.RFC == "" {
		cred.RFC = f.RequesterRFC
	}
	cred.RFC = pkgsat.NormalizeRFC(cred.RFC)
	if err := pkgsat.ValidateRFC(f.RequesterRFC); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if f.RequestType == "" {
		f.RequestType = pkgsat.RequestTypeCFDI
	}
	// Recibidos exige RfcReceptor y emitidos RfcEmisor: por omisión, el propio solicitante.
	switch {
	case f.Kind == domainsat.RequestReceived && f.ReceiverRFC == "":
		f.ReceiverRFC = f.RequesterRFC
	case f.Kind == domainsat.RequestIssued && f.IssuerRFC == "":
		f.IssuerRFC = f.RequesterRFC
	}

	now := s.now()
	req := &entity.DownloadRequest{
		ID:             uuid.NewString(),
		CompanyID:      companyID,
		RFC:            pkgsat.NormalizeRFC(f.RequesterRFC),
		Service:        s.cfg.Service,
		Kind:           string(f.Kind),
		RequestType:    f.RequestType,
		StartDate:      f.Start,
		EndDate:        f.End,
		IssuerRFC:      pkgsat.NormalizeRFC(f.IssuerRFC),
		ReceiverRFC:    pkgsat.NormalizeRFC(f.ReceiverRFC),
		DocumentType:   f.DocumentType,
		DocumentStatus: f.DocumentStatus,
		ThirdPartyRFC:  pkgsat.NormalizeRFC(f.ThirdPartyRFC),
		Complement:     f.Complement,
		Folio:          strings.TrimSpace(f.Folio),
		Status:         entity.DownloadStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("registrar solicitud: %w", err)
	}
	log := s.log.With().Str("download_id", req.ID).Str("rfc", req.RFC).Logger()

	// Sin token no se envió SolicitaDescarga: el fallo nunca es ambiguo.
	sess, err := s.authenticated(ctx, companyID, domainsat.NewSession(), cred)
	if err != nil {
		req.Status = entity.DownloadStatusError
		recordError(req, err)
		log.Warn().Err(err).Msg("descarga: autenticación fallida")
		s.persistFailure(ctx, log, req)
		return req, err
	}
	sess, err = s.client.RequestDownload(ctx, sess, cred, f.Kind, req.Filter().Attributes())
	if err != nil {
		req.Status = startFailureStatus(err)
		recordError(req, err)
		log.Warn().Err(err).Str("status", req.Status).Msg("descarga: solicitud no aceptada")
		s.persistFailure(ctx, log, req)
		return req, err
	}

	req.SATRequestID = sess.RequestID
	req.Status = entity.DownloadStatusRequested
	req.LastCode = pkgsat.StatusAccepted
	req.LastMessage = ""
	log.Info().Str("id_solicitud", req.SATRequestID).Msg("descarga: solicitud aceptada")
	if err := s.save(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Service) persistFailure(ctx context.Context, log zerolog.Logger, req *entity.DownloadRequest) {
	if err := s.save(ctx, req); err != nil {
		log.Error().Err(err).Msg("descarga: no se pudo persistir el estado")
	}
}

func startFailureStatus(err error) string {
	switch {
	case domainsat.IsAmbiguous(err):
		return entity.DownloadStatusAmbiguous
	case errors.Is(err, domainsat.ErrDownloadRequestRejected):
		return entity.DownloadStatusRejected
	default:
		return entity.DownloadStatusError
	}
}

// ── Sondeo ────────────────────────────────────────────────────────────────────

// Poll una verificación. Renueva el token si venció. Una solicitud terminada se
// devuelve sin consultar al SAT.
func (s *Service) Poll(ctx context.Context, companyID, id string, cred domainsat.Credential) (*entity.DownloadRequest, error) {
	req, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if req.Finished() {
		return req, nil
	}
	if req.SATRequestID == "" {
		return req, fmt.Errorf("%w: la solicitud está en %s y no tiene IdSolicitud", domain.ErrConflict, req.Status)
	}
	if cred.RFC == "" {
		cred.RFC = req.RFC
	}

	sess, err := s.authenticated(ctx, companyID, sessionOf(req), cred)
	if err != nil {
		recordError(req, err)
		s.persistFailure(ctx, s.log.With().Str("download_id", req.ID).Logger(), req)
		return req, err
	}
	next, st, err := s.client.Verify(ctx, sess, cred)
	applySession(req, next, st)
	if err != nil {
		recordError(req, err)
	}
	s.log.Debug().Str("download_id", req.ID).Str("status", req.Status).Int("polls", req.Polls).Msg("descarga: verificación")
	if uErr := s.save(ctx, req); uErr != nil && err == nil {
		err = uErr
	}
	return req, err
}

// WaitUntilReady sondea cada PollInterval hasta MaxAttempts. Los fallos de red se
// reintentan (la verificación es idempotente); el resto se devuelve.
func (s *Service) WaitUntilReady(ctx context.Context, companyID, id string, cred domainsat.Credential) (*entity.DownloadRequest, error) {
	for attempt := 1; ; attempt++ {
		req, err := s.Poll(ctx, companyID, id, cred)
		switch {
		case err == nil && req.Finished():
			return req, nil
		case err != nil && !transient(err):
			return req, err
		case err != nil:
			s.log.Warn().Err(err).Str("download_id", id).Int("attempt", attempt).Msg("descarga: verificación fallida, se reintenta")
		}
		if attempt >= s.cfg.MaxAttempts {
			return req, fmt.Errorf("%w: %d verificaciones", ErrStillProcessing, attempt)
		}
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return req, err
		}
	}
}

func transient(err error) bool {
	return errors.Is(err, domainsat.ErrNetworkTimeout) || errors.Is(err, domainsat.ErrTransport)
}

// ── Paquetes ──────────────────────────────────────────────────────────────────

// DownloadPackages descarga cada paquete pendiente una sola vez y lo guarda. Con
// TipoSolicitud Metadata además guarda los renglones. Se detiene en el primer error:
// el SAT cuenta las descargas por paquete, así que no se reintenta.
func (s *Service) DownloadPackages(ctx context.Context, companyID, id string, cred domainsat.Credential) ([]*entity.DownloadPackage, error) {
	req, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.DownloadStatusReady && req.Status != entity.DownloadStatusDownloaded {
		return nil, fmt.Errorf("%w: la solicitud está en %s", domain.ErrConflict, req.Status)
	}
	if cred.RFC == "" {
		cred.RFC = req.RFC
	}
	log := s.log.With().Str("download_id", req.ID).Logger()

	sess := sessionOf(req)
	var saved []*entity.DownloadPackage
	for _, pid := range req.PackageIDs {
		exists, err := s.packages.Exists(ctx, req.ID, pid)
		if err != nil {
			return saved, fmt.Errorf("consultar paquete %s: %w", pid, err)
		}
		if exists {
			continue
		}
		if sess, err = s.authenticated(ctx, companyID, sess, cred); err != nil {
			return saved, err
		}
		_, pkg, err := s.client.Retrieve(ctx, sess, cred, pid)
		if err != nil {
			log.Error().Err(err).Str("id_paquete", pid).Bool("ambiguous", domainsat.IsAmbiguous(err)).Msg("descarga: paquete no descargado")
			recordError(req, err)
			s.persistFailure(ctx, log, req)
			return saved, err
		}
		dp := &entity.DownloadPackage{
			ID:           uuid.NewString(),
			RequestID:    req.ID,
			PackageID:    pid,
			Content:      pkg.Content,
			Size:         len(pkg.Content),
			DownloadedAt: s.now(),
		}
		// La metadata ilegible no impide guardar el zip.
		var records []*entity.CFDIMetadata
		var parseErr error
		if req.RequestType == pkgsat.RequestTypeMetadata && s.reader != nil {
			records, parseErr = s.reader.Metadata(pkg.Content, req.ID)
		}
		err = s.runPackage(ctx, func(packages repository.DownloadPackageRepository, metadata repository.MetadataRepository) error {
			if err := packages.Save(ctx, dp); err != nil {
				return err
			}
			return metadata.SaveBatch(ctx, records)
		})
		if err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				continue
			}
			return saved, fmt.Errorf("guardar paquete %s: %w", pid, err)
		}
		saved = append(saved, dp)
		log.Info().Str("id_paquete", pid).Int("bytes", dp.Size).Int("metadata", len(records)).Msg("descarga: paquete guardado")
		if parseErr != nil {
			return saved, parseErr
		}
	}

	req.Status = entity.DownloadStatusDownloaded
	req.LastMessage = ""
	if err := s.save(ctx, req); err != nil {
		return saved, err
	}
	return saved, nil
}

// Package contenido de un paquete ya descargado.
func (s *Service) Package(ctx context.Context, companyID, id, packageID string) (*entity.DownloadPackage, error) {
	req, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	pkg, err := s.packages.Get(ctx, req.ID, packageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, domain.ErrNotFound
	}
	return pkg, nil
}

// Packages paquetes descargados de la solicitud.
func (s *Service) Packages(ctx context.Context, companyID, id string) ([]*entity.DownloadPackage, error) {
	req, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	return s.packages.ListByRequest(ctx, req.ID)
}

// ── Consultas y reporte ───────────────────────────────────────────────────────

// Get solicitud de la empresa. Una solicitud de otra empresa no existe.
func (s *Service) Get(ctx context.Context, companyID, id string) (*entity.DownloadRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil || req.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return req, nil
}

// List solicitudes de la empresa, más recientes primero.
func (s *Service) List(ctx context.Context, companyID string, limit, offset int) ([]*entity.DownloadRequest, error) {
	return s.requests.ListByCompany(ctx, companyID, limit, offset)
}

// Metadata renglones guardados de la solicitud.
func (s *Service) Metadata(ctx context.Context, companyID, id string) ([]*entity.CFDIMetadata, error) {
	req, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	return s.metadata.ListByRequest(ctx, req.ID)
}

// Report PDF con la metadata de la solicitud.
func (s *Service) Report(ctx context.Context, companyID, id string) ([]byte, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("reporte PDF no configurado")
	}
	req, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	records, err := s.metadata.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: la solicitud no tiene metadata descargada", domain.ErrNotFound)
	}
	return s.reports.MetadataReport(req, records)
}

// ── Sesión ────────────────────────────────────────────────────────────────────

// authenticated pone en la sesión un token vigente, del caché o de una nueva autenticación.
func (s *Service) authenticated(ctx context.Context, companyID string, sess domainsat.Session, cred domainsat.Credential) (domainsat.Session, error) {
	now := s.now()
	if !sess.Token.Expired(now) {
		return sess, nil
	}
	key := companyID + "|" + pkgsat.NormalizeRFC(cred.RFC)

	s.mu.Lock()
	tok, ok := s.tokens[key]
	s.mu.Unlock()
	if ok && !tok.Expired(now) {
		return sess.WithToken(tok), nil
	}

	next, err := s.client.Authenticate(ctx, sess, cred)
	if err != nil {
		return sess, err
	}
	s.mu.Lock()
	s.tokens[key] = next.Token
	s.mu.Unlock()
	return next, nil
}

// sessionOf reconstruye la sesión a partir de la solicitud persistida (sin token).
func sessionOf(req *entity.DownloadRequest) domainsat.Session {
	state := domainsat.StateAuthenticated
	switch req.Status {
	case entity.DownloadStatusRequested:
		state = domainsat.StateDownloadRequested
	case entity.DownloadStatusPolling:
		state = domainsat.StatePolling
	case entity.DownloadStatusReady, entity.DownloadStatusDownloaded:
		state = domainsat.StatePackageReady
	case entity.DownloadStatusExpired:
		state = domainsat.StateRequestExpired
	case entity.DownloadStatusRejected:
		state = domainsat.StateRequestRejected
	}
	return domainsat.Session{
		State:      state,
		RequestID:  req.SATRequestID,
		PackageIDs: append([]string(nil), req.PackageIDs...),
		Polls:      req.Polls,
	}
}

// applySession copia a la solicitud el resultado de una verificación.
func applySession(req *entity.DownloadRequest, sess domainsat.Session, st *domainsat.VerificationStatus) {
	switch sess.State {
	case domainsat.StatePolling:
		req.Status = entity.DownloadStatusPolling
	case domainsat.StatePackageReady:
		req.Status = entity.DownloadStatusReady
		req.PackageIDs = append([]string(nil), sess.PackageIDs...)
	case domainsat.StateRequestExpired:
		req.Status = entity.DownloadStatusExpired
	case domainsat.StateRequestRejected:
		req.Status = entity.DownloadStatusRejected
	}
	req.Polls = sess.Polls
	if st != nil {
		req.NumberOfItems = st.NumberOfItems
		req.LastCode = st.RequestStatusCode
		req.LastMessage = st.StatusMessage
	}
}

func recordError(req *entity.DownloadRequest, err error) {
	if e, ok := domainsat.AsError(err); ok {
		if e.StatusCode != "" {
			req.LastCode = e.StatusCode
		}
		req.LastMessage = e.Error()
		return
	}
	req.LastMessage = err.Error()
}

func (s *Service) runPackage(ctx context.Context, fn func(repository.DownloadPackageRepository, repository.MetadataRepository) error) error {
	if s.tx == nil {
		return fn(s.packages, s.metadata)
	}
	return s.tx.RunPackage(ctx, fn)
}

func (s *Service) save(ctx context.Context, req *entity.DownloadRequest) error {
	req.UpdatedAt = s.now()
	if err := s.requests.Update(ctx, req); err != nil {
		return fmt.Errorf("actualizar solicitud %s: %w", req.ID, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
