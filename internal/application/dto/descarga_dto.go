package dto

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// ── FIEL ──────────────────────────────────────────────────────────────────────

// FielInput credencial enviada por el cliente. Nunca se persiste.
// cerBase64 admite DER en Base64 o PEM; keyPem admite PEM o DER en Base64.
type FielInput struct {
	RFC       string `json:"rfc"`
	CerBase64 string `json:"cerBase64"`
	KeyPem    string `json:"keyPem"`
	Password  string `json:"password"`
}

// Validate comprueba que vengan todos los campos.
func (f *FielInput) Validate() error {
	var missing []string
	if f.CerBase64 == "" {
		missing = append(missing, "cerBase64")
	}
	if f.KeyPem == "" {
		missing = append(missing, "keyPem")
	}
	if f.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("faltan parámetros de la FIEL: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Credential convierte la entrada en la credencial del dominio.
func (f *FielInput) Credential() domainsat.Credential {
	return domainsat.Credential{
		Certificate: []byte(f.CerBase64),
		PrivateKey:  []byte(f.KeyPem),
		Passphrase:  f.Password,
		RFC:         f.RFC,
	}
}

// ── Rutas directas (proxy sin estado) ─────────────────────────────────────────

// AuthenticateRequest body de POST /api/sat/autentica. Acepta {"fiel": {...}} o la forma
// plana {cerBase64, keyPem, password}.
type AuthenticateRequest struct {
	Fiel *FielInput `json:"fiel"`
	FielInput
}

// FIEL la credencial enviada, en cualquiera de las dos formas.
func (r *AuthenticateRequest) FIEL() *FielInput {
	if r.Fiel != nil {
		return r.Fiel
	}
	return &r.FielInput
}

// TokenResponse token emitido por el SAT.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SolicitudRequest body de POST /api/sat/descarga/{recibidos,emitidos,folio}.
// RequestData usa los nombres de atributo del SAT (FechaInicial, RfcEmisor...); también
// se aceptan con minúscula inicial (fechaInicial).
type SolicitudRequest struct {
	AuthToken   string            `json:"authToken"`
	Fiel        FielInput         `json:"fiel"`
	RequestData map[string]string `json:"requestData"`
}

// Attributes atributos para des:solicitud. RfcSolicitante toma el RFC de la FIEL si no viene.
func (r *SolicitudRequest) Attributes() map[string]string {
	attrs := make(map[string]string, len(r.RequestData)+1)
	for k, v := range r.RequestData {
		if k == "" {
			continue
		}
		attrs[strings.ToUpper(k[:1])+k[1:]] = strings.TrimSpace(v)
	}
	if attrs["RfcSolicitante"] == "" && r.Fiel.RFC != "" {
		attrs["RfcSolicitante"] = r.Fiel.RFC
	}
	if attrs["RfcSolicitante"] == "" {
		delete(attrs, "RfcSolicitante")
	}
	return attrs
}

// SolicitudResponse IdSolicitud asignado.
type SolicitudResponse struct {
	IDSolicitud string `json:"idSolicitud"`
}

// VerificacionRequest body de POST /api/sat/verificacion.
type VerificacionRequest struct {
	AuthToken   string    `json:"authToken"`
	Fiel        FielInput `json:"fiel"`
	IDSolicitud string    `json:"idSolicitud"`
}

// VerificacionResponse estado de la solicitud.
type VerificacionResponse struct {
	EstadoSolicitud       int      `json:"estadoSolicitud"`
	Estado                string   `json:"estado"`
	CodEstatus            string   `json:"codEstatus"`
	CodigoEstadoSolicitud string   `json:"codigoEstadoSolicitud"`
	NumeroCFDIs           int      `json:"numeroCFDIs"`
	Mensaje               string   `json:"mensaje"`
	IdsPaquetes           []string `json:"idsPaquetes"`
}

// NewVerificacionResponse a partir del estado del dominio.
func NewVerificacionResponse(st *domainsat.VerificationStatus) VerificacionResponse {
	ids := st.PackageIDs
	if ids == nil {
		ids = []string{}
	}
	return VerificacionResponse{
		EstadoSolicitud:       int(st.State),
		Estado:                st.State.String(),
		CodEstatus:            st.StatusCode,
		CodigoEstadoSolicitud: st.RequestStatusCode,
		NumeroCFDIs:           st.NumberOfItems,
		Mensaje:               st.StatusMessage,
		IdsPaquetes:           ids,
	}
}

// PaqueteRequest body de POST /api/sat/descarga/paquetes.
type PaqueteRequest struct {
	AuthToken string    `json:"authToken"`
	Fiel      FielInput `json:"fiel"`
	IDPaquete string    `json:"idPaquete"`
}

// PaqueteResponse paquete en Base64.
type PaqueteResponse struct {
	IDPaquete string `json:"idPaquete"`
	Paquete   string `json:"paquete"`
}

// NewPaqueteResponse codifica el paquete.
func NewPaqueteResponse(p *domainsat.Package) PaqueteResponse {
	return PaqueteResponse{IDPaquete: p.ID, Paquete: base64.StdEncoding.EncodeToString(p.Content)}
}

// ── Descargas orquestadas ─────────────────────────────────────────────────────

// StartDownloadRequest body de POST /api/descargas.
type StartDownloadRequest struct {
	Fiel           FielInput `json:"fiel"`
	Kind           string    `json:"kind"`                      // recibidos | emitidos | folio
	RequestType    string    `json:"request_type,omitempty"`    // CFDI | Metadata
	StartDate      time.Time `json:"start_date"`                // RFC 3339
	EndDate        time.Time `json:"end_date"`                  // RFC 3339
	IssuerRFC      string    `json:"issuer_rfc,omitempty"`      // RfcEmisor
	ReceiverRFC    string    `json:"receiver_rfc,omitempty"`    // RfcReceptor
	DocumentType   string    `json:"document_type,omitempty"`   // I, E, T, N, P
	DocumentStatus string    `json:"document_status,omitempty"` // 0 cancelado, 1 vigente
	ThirdPartyRFC  string    `json:"third_party_rfc,omitempty"`
	Complement     string    `json:"complement,omitempty"`
	Folio          string    `json:"folio,omitempty"` // UUID, sólo para kind=folio
}

// Filter parámetros tipados. Las fechas se envían al SAT en la hora local del reloj de pared.
func (r *StartDownloadRequest) Filter() domainsat.DownloadFilter {
	return domainsat.DownloadFilter{
		Kind:           domainsat.RequestKind(strings.ToLower(r.Kind)),
		Start:          r.StartDate,
		End:            r.EndDate,
		RequesterRFC:   r.Fiel.RFC,
		IssuerRFC:      r.IssuerRFC,
		ReceiverRFC:    r.ReceiverRFC,
		RequestType:    r.RequestType,
		DocumentType:   r.DocumentType,
		DocumentStatus: r.DocumentStatus,
		ThirdPartyRFC:  r.ThirdPartyRFC,
		Complement:     r.Complement,
		Folio:          r.Folio,
	}
}

// FielOnlyRequest body de las acciones que sólo requieren la FIEL (poll, paquetes).
type FielOnlyRequest struct {
	Fiel FielInput `json:"fiel"`
}

// DownloadRequestResponse solicitud persistida.
type DownloadRequestResponse struct {
	ID            string   `json:"id"`
	RFC           string   `json:"rfc"`
	Service       string   `json:"service"`
	Kind          string   `json:"kind"`
	RequestType   string   `json:"request_type"`
	StartDate     string   `json:"start_date,omitempty"`
	EndDate       string   `json:"end_date,omitempty"`
	SATRequestID  string   `json:"sat_request_id,omitempty"`
	Status        string   `json:"status"`
	Polls         int      `json:"polls"`
	NumberOfItems int      `json:"number_of_items"`
	PackageIDs    []string `json:"package_ids"`
	LastCode      string   `json:"last_code,omitempty"`
	LastMessage   string   `json:"last_message,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// DownloadPackageResponse paquete descargado (sin contenido).
type DownloadPackageResponse struct {
	PackageID    string `json:"package_id"`
	Size         int    `json:"size"`
	DownloadedAt string `json:"downloaded_at"`
}

// MetadataResponse renglón de metadata.
type MetadataResponse struct {
	UUID         string          `json:"uuid"`
	IssuerRFC    string          `json:"issuer_rfc"`
	IssuerName   string          `json:"issuer_name"`
	ReceiverRFC  string          `json:"receiver_rfc"`
	ReceiverName string          `json:"receiver_name"`
	IssuedAt     string          `json:"issued_at"`
	Amount       decimal.Decimal `json:"amount"`
	Effect       string          `json:"effect"`
	Status       string          `json:"status"`
}

// DownloadErrorResponse error de una operación que ya dejó la solicitud persistida.
type DownloadErrorResponse struct {
	ErrorResponse
	Request DownloadRequestResponse `json:"request"`
}
