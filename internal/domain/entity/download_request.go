package entity

import (
	"time"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// Estados de una solicitud de descarga persistida.
const (
	DownloadStatusPending    = "PENDING"    // Registrada, aún sin respuesta del SAT
	DownloadStatusRequested  = "REQUESTED"  // SAT devolvió IdSolicitud
	DownloadStatusPolling    = "POLLING"    // Aceptada o en proceso
	DownloadStatusReady      = "READY"      // Terminada con paquetes
	DownloadStatusDownloaded = "DOWNLOADED" // Todos los paquetes descargados
	DownloadStatusExpired    = "EXPIRED"    // Vencida en el SAT
	DownloadStatusRejected   = "REJECTED"   // Rechazada por el SAT
	DownloadStatusAmbiguous  = "AMBIGUOUS"  // Fallo tras enviar la petición; decide un operador
	DownloadStatusError      = "ERROR"      // Error local (credencial, datos)
)

// DownloadRequest solicitud de descarga masiva de una empresa.
type DownloadRequest struct {
	ID             string
	CompanyID      string
	RFC            string // RfcSolicitante
	Service        string // cfdi | retenciones
	Kind           string // recibidos | emitidos | folio
	RequestType    string // CFDI | Metadata
	StartDate      time.Time
	EndDate        time.Time
	IssuerRFC      string
	ReceiverRFC    string
	DocumentType   string
	DocumentStatus string
	ThirdPartyRFC  string
	Complement     string
	Folio          string
	SATRequestID   string // IdSolicitud
	Status         string
	Polls          int
	NumberOfItems  int
	PackageIDs     []string
	LastCode       string // último CodEstatus / CodigoEstadoSolicitud
	LastMessage    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Filter parámetros de la solicitud en su forma tipada.
func (r *DownloadRequest) Filter() domainsat.DownloadFilter {
	return domainsat.DownloadFilter{
		Kind:           domainsat.RequestKind(r.Kind),
		Start:          r.StartDate,
		End:            r.EndDate,
		RequesterRFC:   r.RFC,
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

// Finished indica si la solicitud ya no admite sondeos.
func (r *DownloadRequest) Finished() bool {
	switch r.Status {
	case DownloadStatusReady, DownloadStatusDownloaded, DownloadStatusExpired, DownloadStatusRejected:
		return true
	}
	return false
}
