package sat

import "fmt"

// SessionState estado de una sesión de descarga.
type SessionState string

const (
	StateUnauthenticated   SessionState = "UNAUTHENTICATED"
	StateAuthenticated     SessionState = "AUTHENTICATED"
	StateDownloadRequested SessionState = "DOWNLOAD_REQUESTED"
	StatePolling           SessionState = "POLLING"
	StatePackageReady      SessionState = "PACKAGE_READY"
	StateRequestExpired    SessionState = "REQUEST_EXPIRED"
	StateRequestRejected   SessionState = "REQUEST_REJECTED"
)

// Terminal indica si el estado ya no admite verificaciones.
func (s SessionState) Terminal() bool {
	return s == StatePackageReady || s == StateRequestExpired || s == StateRequestRejected
}

// Session valor inmutable con el estado de una sesión. Cada transición devuelve una copia;
// el llamador conserva la anterior si la operación falla.
type Session struct {
	State      SessionState
	Token      SessionToken
	RequestID  string
	PackageIDs []string
	Polls      int
	LastStatus *VerificationStatus
}

// NewSession sesión inicial, sin autenticar.
func NewSession() Session {
	return Session{State: StateUnauthenticated}
}

// HasPackage indica si id es uno de los paquetes reportados por la verificación.
func (s Session) HasPackage(id string) bool {
	for _, p := range s.PackageIDs {
		if p == id {
			return true
		}
	}
	return false
}

// ── Transiciones ──────────────────────────────────────────────────────────────
// Las funciones With* sólo validan el estado de origen y construyen el nuevo valor;
// la clasificación de respuestas del SAT vive en el cliente de protocolo.

// WithToken Unauthenticated|Authenticated -> Authenticated. Renovar el token en cualquier
// estado posterior conserva el estado y los datos de la solicitud.
func (s Session) WithToken(t SessionToken) Session {
	next := s.clone()
	next.Token = t
	if s.State == StateUnauthenticated {
		next.State = StateAuthenticated
	}
	return next
}

// WithRequest Authenticated -> DownloadRequested.
func (s Session) WithRequest(requestID string) (Session, error) {
	if s.State != StateAuthenticated {
		return s, transitionError("solicitud", s.State)
	}
	next := s.clone()
	next.State = StateDownloadRequested
	next.RequestID = requestID
	next.PackageIDs = nil
	next.Polls = 0
	next.LastStatus = nil
	return next, nil
}

// CanVerify indica si se permite una verificación en el estado actual.
func (s Session) CanVerify() error {
	if s.State != StateDownloadRequested && s.State != StatePolling {
		return transitionError("verificacion", s.State)
	}
	return nil
}

// WithStatus aplica el resultado de una verificación. El primer poll desde DownloadRequested
// reinicia el contador.
func (s Session) WithStatus(st VerificationStatus, state SessionState) Session {
	next := s.clone()
	if s.State == StateDownloadRequested {
		next.Polls = 0
	}
	next.Polls++
	next.State = state
	copied := st
	copied.PackageIDs = append([]string(nil), st.PackageIDs...)
	next.LastStatus = &copied
	if state == StatePackageReady {
		next.PackageIDs = append([]string(nil), st.PackageIDs...)
	}
	return next
}

// CanRetrieve indica si se puede descargar packageID.
func (s Session) CanRetrieve(packageID string) error {
	if s.State != StatePackageReady {
		return transitionError("descarga", s.State)
	}
	if !s.HasPackage(packageID) {
		return &Error{Kind: ErrInvalidTransition, Op: "descarga", Message: fmt.Sprintf("paquete %q no pertenece a la solicitud", packageID)}
	}
	return nil
}

func (s Session) clone() Session {
	next := s
	next.PackageIDs = append([]string(nil), s.PackageIDs...)
	if s.LastStatus != nil {
		st := *s.LastStatus
		st.PackageIDs = append([]string(nil), s.LastStatus.PackageIDs...)
		next.LastStatus = &st
	}
	return next
}

func transitionError(op string, from SessionState) error {
	return &Error{Kind: ErrInvalidTransition, Op: op, Message: "estado actual " + string(from)}
}
