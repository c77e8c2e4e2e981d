package sat

import (
	"errors"
	"fmt"
)

// Taxonomía de errores del núcleo. Se comparan con errors.Is.
var (
	ErrCertificateMalformed       = errors.New("certificado mal formado")
	ErrInvalidPassphrase          = errors.New("contraseña de la FIEL incorrecta o archivo .key corrupto")
	ErrSignatureComputationFailed = errors.New("no se pudo calcular la firma")
	ErrRequestDataIncomplete      = errors.New("datos de la solicitud incompletos")
	ErrAuthenticationRejected     = errors.New("el SAT rechazó la autenticación")
	ErrDownloadRequestRejected    = errors.New("el SAT rechazó la solicitud de descarga")
	ErrNetworkTimeout             = errors.New("tiempo de espera agotado con el SAT")
	ErrRemoteFault                = errors.New("el SAT devolvió un error")
	ErrMalformedResponse          = errors.New("respuesta del SAT inesperada")
	ErrRequestExpired             = errors.New("la solicitud de descarga venció")
	ErrRequestRejected            = errors.New("la solicitud de descarga fue rechazada")

	ErrTokenExpired      = errors.New("token de sesión vencido")
	ErrTransport         = errors.New("fallo de comunicación con el SAT")
	ErrInvalidTransition = errors.New("operación no permitida en el estado actual de la sesión")
	ErrInvalidPackage    = errors.New("paquete de descarga inválido")
)

// Error error tipado del núcleo. Kind es uno de los Err* de este paquete.
type Error struct {
	Kind       error
	Op         string // operación: autenticacion, solicitud, verificacion, descarga, firma...
	StatusCode string // CodEstatus o faultcode del SAT, textual
	Message    string // mensaje del SAT, textual
	Body       []byte // respuesta cruda (siempre presente en ErrMalformedResponse)
	Ambiguous  bool   // la petición pudo llegar al SAT: el resultado es incierto
	Err        error  // causa
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != "" || e.Message != "" {
		msg += fmt.Sprintf(" [%s] %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap permite errors.Is tanto contra Kind como contra la causa.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError atajo para construir un *Error sin datos remotos.
func NewError(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// IsAmbiguous indica si err corresponde a un fallo cuyo resultado remoto es incierto
// (la petición ya se había enviado). Reintentar una solicitud de descarga en ese caso
// puede crear un trabajo duplicado en el SAT.
func IsAmbiguous(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Ambiguous
	}
	return false
}

// AsError extrae el *Error de la cadena, si existe.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
