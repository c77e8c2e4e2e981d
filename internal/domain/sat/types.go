// Package sat contiene el modelo de dominio del servicio de Descarga Masiva del SAT:
// credencial FIEL, certificado procesado, token de sesión, estado de verificación,
// paquetes y la máquina de estados de una sesión de descarga.
package sat

import (
	"crypto/rsa"
	"math/big"
	"time"
)

// TokenLifetime vigencia del token devuelto por Autentica (ventana del u:Timestamp).
const TokenLifetime = 5 * time.Minute

// Credential FIEL del contribuyente: certificado, llave privada cifrada y contraseña.
// Inmutable una vez cargada; el núcleo nunca la persiste.
type Credential struct {
	Certificate []byte // .cer en DER, Base64 o PEM
	PrivateKey  []byte // .key cifrada (PKCS#8 DER, Base64 o PEM)
	Passphrase  string
	RFC         string // RFC del solicitante
}

// ParsedCertificate datos derivados del certificado, en el formato que exige el SAT.
type ParsedCertificate struct {
	Raw          []byte // DER
	RawBase64    string // DER en Base64, sin encabezados PEM ni saltos de línea
	SerialNumber string // número de serie en decimal (X509SerialNumber)
	IssuerName   string // DN del emisor (X509IssuerName)
	RFC          string // RFC tomado del sujeto (x500UniqueIdentifier), puede ser vacío
	NotBefore    time.Time
	NotAfter     time.Time
}

// ValidAt indica si el certificado está vigente en t.
func (c *ParsedCertificate) ValidAt(t time.Time) bool {
	return !t.Before(c.NotBefore) && !t.After(c.NotAfter)
}

// SigningKey llave privada descifrada. Vive sólo durante una operación de firma;
// quien la obtiene debe llamar Destroy en cuanto termina.
type SigningKey struct {
	key *rsa.PrivateKey
}

// NewSigningKey envuelve una llave RSA ya descifrada.
func NewSigningKey(key *rsa.PrivateKey) *SigningKey {
	return &SigningKey{key: key}
}

// RSA devuelve la llave subyacente o nil si ya fue destruida.
func (k *SigningKey) RSA() *rsa.PrivateKey {
	if k == nil {
		return nil
	}
	return k.key
}

// Public devuelve la llave pública asociada.
func (k *SigningKey) Public() *rsa.PublicKey {
	if k == nil || k.key == nil {
		return nil
	}
	return &k.key.PublicKey
}

// Destroy sobrescribe con ceros el material privado y suelta la referencia.
func (k *SigningKey) Destroy() {
	if k == nil || k.key == nil {
		return
	}
	zeroInt(k.key.D)
	for _, p := range k.key.Primes {
		zeroInt(p)
	}
	zeroInt(k.key.Precomputed.Dp)
	zeroInt(k.key.Precomputed.Dq)
	zeroInt(k.key.Precomputed.Qinv)
	for _, crt := range k.key.Precomputed.CRTValues {
		zeroInt(crt.Exp)
		zeroInt(crt.Coeff)
		zeroInt(crt.R)
	}
	k.key = nil
}

func zeroInt(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}

// SessionToken token de autenticación del servicio. Opaco para el núcleo.
type SessionToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewSessionToken construye el token con la vigencia estándar de 5 minutos.
func NewSessionToken(value string, issuedAt time.Time) SessionToken {
	return SessionToken{Value: value, IssuedAt: issuedAt, ExpiresAt: issuedAt.Add(TokenLifetime)}
}

// Expired indica si el token ya no debe usarse en now.
func (t SessionToken) Expired(now time.Time) bool {
	return t.Value == "" || !now.Before(t.ExpiresAt)
}

// RequestKind variante de la solicitud de descarga.
type RequestKind string

const (
	RequestReceived RequestKind = "recibidos" // comprobantes recibidos
	RequestIssued   RequestKind = "emitidos"  // comprobantes emitidos
	RequestFolio    RequestKind = "folio"     // un solo comprobante por UUID
)

// Valid indica si la variante es conocida.
func (k RequestKind) Valid() bool {
	switch k {
	case RequestReceived, RequestIssued, RequestFolio:
		return true
	}
	return false
}

// RequestState estado de la solicitud reportado por VerificaSolicitudDescarga (EstadoSolicitud).
type RequestState int

const (
	RequestStateUnknown    RequestState = 0
	RequestStateAccepted   RequestState = 1 // Aceptada
	RequestStateInProgress RequestState = 2 // En proceso
	RequestStateFinished   RequestState = 3 // Terminada
	RequestStateFailure    RequestState = 4 // Error
	RequestStateRejected   RequestState = 5 // Rechazada
	RequestStateExpired    RequestState = 6 // Vencida
)

// String nombre del estado tal como lo documenta el SAT.
func (s RequestState) String() string {
	switch s {
	case RequestStateAccepted:
		return "Aceptada"
	case RequestStateInProgress:
		return "EnProceso"
	case RequestStateFinished:
		return "Terminada"
	case RequestStateFailure:
		return "Error"
	case RequestStateRejected:
		return "Rechazada"
	case RequestStateExpired:
		return "Vencida"
	default:
		return "Desconocido"
	}
}

// VerificationStatus resultado de una verificación.
type VerificationStatus struct {
	State             RequestState
	NumberOfItems     int
	PackageIDs        []string // vacío hasta que State == Finished
	StatusCode        string   // CodEstatus (resultado de la petición de verificación)
	StatusMessage     string   // Mensaje
	RequestStatusCode string   // CodigoEstadoSolicitud (resultado de la solicitud)
}

// Package paquete (zip) devuelto por Descargar.
type Package struct {
	ID      string
	Content []byte
}
