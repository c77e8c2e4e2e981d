package sat

import (
	"context"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// SessionClient secuencia las operaciones sobre una domainsat.Session. Recibe la sesión
// y devuelve la siguiente; ante un error devuelve la sesión recibida sin cambios, salvo
// vencimiento o rechazo de la solicitud, que son transiciones a un estado terminal.
// No hace ciclos ni esperas: el sondeo periódico es responsabilidad del llamador.
type SessionClient struct {
	protocol *ProtocolClient
}

// NewSessionClient envuelve el cliente de protocolo.
func NewSessionClient(protocol *ProtocolClient) *SessionClient {
	return &SessionClient{protocol: protocol}
}

// Authenticate obtiene o renueva el token.
func (c *SessionClient) Authenticate(ctx context.Context, s domainsat.Session, cred domainsat.Credential) (domainsat.Session, error) {
	token, err := c.protocol.Authenticate(ctx, cred)
	if err != nil {
		return s, err
	}
	return s.WithToken(*token), nil
}

// RequestDownload Authenticated -> DownloadRequested.
func (c *SessionClient) RequestDownload(ctx context.Context, s domainsat.Session, cred domainsat.Credential, kind domainsat.RequestKind, attrs map[string]string) (domainsat.Session, error) {
	if s.State != domainsat.StateAuthenticated {
		_, err := s.WithRequest("")
		return s, err
	}
	requestID, err := c.protocol.RequestDownload(ctx, &s.Token, cred, kind, attrs)
	if err != nil {
		return s, err
	}
	return s.WithRequest(requestID)
}

// Verify una sola consulta de estado.
//
//	Aceptada | EnProceso       -> Polling
//	Terminada con paquetes     -> PackageReady
//	Vencida                    -> RequestExpired   (ErrRequestExpired)
//	Rechazada | Error          -> RequestRejected  (ErrRequestRejected)
func (c *SessionClient) Verify(ctx context.Context, s domainsat.Session, cred domainsat.Credential) (domainsat.Session, *domainsat.VerificationStatus, error) {
	if err := s.CanVerify(); err != nil {
		return s, nil, err
	}
	status, err := c.protocol.VerifyStatus(ctx, &s.Token, cred, s.RequestID)
	if err != nil {
		return s, nil, err
	}
	switch status.State {
	case domainsat.RequestStateFinished:
		return s.WithStatus(*status, domainsat.StatePackageReady), status, nil
	case domainsat.RequestStateExpired:
		return s.WithStatus(*status, domainsat.StateRequestExpired), status, requestEnded(domainsat.ErrRequestExpired, status)
	case domainsat.RequestStateRejected, domainsat.RequestStateFailure:
		return s.WithStatus(*status, domainsat.StateRequestRejected), status, requestEnded(domainsat.ErrRequestRejected, status)
	default:
		return s.WithStatus(*status, domainsat.StatePolling), status, nil
	}
}

// Retrieve descarga un paquete conocido. No cambia el estado.
func (c *SessionClient) Retrieve(ctx context.Context, s domainsat.Session, cred domainsat.Credential, packageID string) (domainsat.Session, *domainsat.Package, error) {
	if err := s.CanRetrieve(packageID); err != nil {
		return s, nil, err
	}
	pkg, err := c.protocol.RetrievePackage(ctx, &s.Token, cred, packageID)
	if err != nil {
		return s, nil, err
	}
	return s, pkg, nil
}

func requestEnded(kind error, st *domainsat.VerificationStatus) error {
	return &domainsat.Error{
		Kind:       kind,
		Op:         "verificacion",
		StatusCode: st.RequestStatusCode,
		Message:    st.StatusMessage,
	}
}
