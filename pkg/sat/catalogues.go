// Package sat contiene catálogos, constantes de protocolo y validaciones del servicio
// de Descarga Masiva de CFDI y Retenciones del SAT (México).
package sat

// =============================================================================
// Códigos de estatus (CodEstatus) devueltos por los servicios
// =============================================================================

const (
	StatusAccepted            = "5000" // Solicitud recibida con éxito
	StatusRequestLimit        = "5002" // Se agotó el número de solicitudes de por vida para los mismos parámetros
	StatusMaxResults          = "5003" // Tope máximo de elementos de la consulta
	StatusNotFound            = "5004" // No se encontró la información / solicitud
	StatusDuplicated          = "5005" // Solicitud duplicada
	StatusDownloadLimit       = "5007" // No existe el paquete solicitado
	StatusPackageLimit        = "5008" // Máximo de descargas permitidas del paquete
	StatusDailyLimit          = "5011" // Límite de descargas por folio por día
	StatusUserNotValid        = "300"  // Usuario no válido
	StatusXMLMalformed        = "301"  // XML mal formado
	StatusSealMalformed       = "302"  // Sello mal formado
	StatusSealMismatch        = "303"  // Sello no corresponde con RfcSolicitante
	StatusCertificateRevoked  = "304"  // Certificado revocado o caduco
	StatusCertificateInvalid  = "305"  // Certificado inválido
	StatusRequestNotAvailable = "404"  // Error no controlado
)

// StatusMessages descripción de los códigos documentados.
var StatusMessages = map[string]string{
	StatusAccepted:            "Solicitud recibida con éxito",
	StatusRequestLimit:        "Se agotó las solicitudes de por vida",
	StatusMaxResults:          "Tope máximo de elementos de la consulta",
	StatusNotFound:            "No se encontró la información",
	StatusDuplicated:          "Solicitud duplicada",
	StatusDownloadLimit:       "No existe el paquete solicitado",
	StatusPackageLimit:        "Máximo de descargas permitidas",
	StatusDailyLimit:          "Límite de descargas por folio por día",
	StatusUserNotValid:        "Usuario no válido",
	StatusXMLMalformed:        "XML mal formado",
	StatusSealMalformed:       "Sello mal formado",
	StatusSealMismatch:        "Sello no corresponde con RfcSolicitante",
	StatusCertificateRevoked:  "Certificado revocado o caduco",
	StatusCertificateInvalid:  "Certificado inválido",
	StatusRequestNotAvailable: "Error no controlado",
}

// =============================================================================
// TipoSolicitud
// =============================================================================

const (
	RequestTypeCFDI     = "CFDI"
	RequestTypeMetadata = "Metadata"
)

// ValidRequestTypes valores aceptados en el atributo TipoSolicitud.
var ValidRequestTypes = map[string]bool{
	RequestTypeCFDI:     true,
	RequestTypeMetadata: true,
}

// =============================================================================
// TipoComprobante (filtro opcional)
// =============================================================================

const (
	DocumentTypeIngreso  = "I"
	DocumentTypeEgreso   = "E"
	DocumentTypeTraslado = "T"
	DocumentTypeNomina   = "N"
	DocumentTypePago     = "P"
)

// ValidDocumentTypes valores aceptados en TipoComprobante.
var ValidDocumentTypes = map[string]bool{
	DocumentTypeIngreso: true, DocumentTypeEgreso: true, DocumentTypeTraslado: true,
	DocumentTypeNomina: true, DocumentTypePago: true,
}

// =============================================================================
// EstadoComprobante (filtro opcional)
// =============================================================================

const (
	DocumentStatusCancelled = "0" // Cancelado
	DocumentStatusActive    = "1" // Vigente
)

// ValidDocumentStatuses valores aceptados en EstadoComprobante.
var ValidDocumentStatuses = map[string]bool{
	DocumentStatusCancelled: true,
	DocumentStatusActive:    true,
}

// =============================================================================
// Atributos de des:solicitud
// =============================================================================

const (
	AttrFechaInicial       = "FechaInicial"
	AttrFechaFinal         = "FechaFinal"
	AttrRfcEmisor          = "RfcEmisor"
	AttrRfcReceptor        = "RfcReceptor"
	AttrRfcSolicitante     = "RfcSolicitante"
	AttrTipoSolicitud      = "TipoSolicitud"
	AttrTipoComprobante    = "TipoComprobante"
	AttrEstadoComprobante  = "EstadoComprobante"
	AttrRfcACuentaTerceros = "RfcACuentaTerceros"
	AttrComplemento        = "Complemento"
	AttrFolio              = "Folio"
	AttrIdSolicitud        = "IdSolicitud"
	AttrIdPaquete          = "IdPaquete"
)

// DateTimeLayout formato de FechaInicial / FechaFinal.
const DateTimeLayout = "2006-01-02T15:04:05"

// TimestampLayout formato de u:Created / u:Expires (UTC, sin fracción de segundo).
const TimestampLayout = "2006-01-02T15:04:05Z"
