package sat

import "fmt"

// ── Servicios ─────────────────────────────────────────────────────────────────

const (
	ServiceCFDI        = "cfdi"
	ServiceRetenciones = "retenciones"
)

// Endpoints URLs de las cuatro operaciones de un servicio.
type Endpoints struct {
	Authenticate string
	Request      string
	Verify       string
	Download     string
}

// CFDIEndpoints servicio de descarga masiva de CFDI.
var CFDIEndpoints = Endpoints{
	Authenticate: "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/Autenticacion/Autenticacion.svc",
	Request:      "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/SolicitaDescargaService.svc",
	Verify:       "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/VerificaSolicitudDescargaService.svc",
	Download:     "https://cfdidescargamasiva.clouda.sat.gob.mx/DescargaMasivaService.svc",
}

// RetencionesEndpoints servicio de descarga masiva de CFDI de retenciones.
var RetencionesEndpoints = Endpoints{
	Authenticate: "https://retendescargamasivasolicitud.clouda.sat.gob.mx/Autenticacion/Autenticacion.svc",
	Request:      "https://retendescargamasivasolicitud.clouda.sat.gob.mx/SolicitaDescargaService.svc",
	Verify:       "https://retendescargamasivasolicitud.clouda.sat.gob.mx/VerificaSolicitudDescargaService.svc",
	Download:     "https://retendescargamasiva.clouda.sat.gob.mx/DescargaMasivaService.svc",
}

// EndpointsFor devuelve los endpoints por nombre de servicio.
func EndpointsFor(service string) (Endpoints, error) {
	switch service {
	case ServiceCFDI, "":
		return CFDIEndpoints, nil
	case ServiceRetenciones:
		return RetencionesEndpoints, nil
	default:
		return Endpoints{}, fmt.Errorf("sat: servicio desconocido %q (usar 'cfdi' o 'retenciones')", service)
	}
}

// Merge reemplaza las URLs no vacías de override.
func (e Endpoints) Merge(override Endpoints) Endpoints {
	if override.Authenticate != "" {
		e.Authenticate = override.Authenticate
	}
	if override.Request != "" {
		e.Request = override.Request
	}
	if override.Verify != "" {
		e.Verify = override.Verify
	}
	if override.Download != "" {
		e.Download = override.Download
	}
	return e
}

// ── SOAPAction ────────────────────────────────────────────────────────────────

const (
	ActionAuthenticate    = "http://DescargaMasivaTerceros.gob.mx/IAutenticacion/Autentica"
	ActionRequestIssued   = "http://DescargaMasivaTerceros.sat.gob.mx/ISolicitaDescargaService/SolicitaDescargaEmitidos"
	ActionRequestReceived = "http://DescargaMasivaTerceros.sat.gob.mx/ISolicitaDescargaService/SolicitaDescargaRecibidos"
	ActionRequestFolio    = "http://DescargaMasivaTerceros.sat.gob.mx/ISolicitaDescargaService/SolicitaDescargaFolio"
	ActionVerify          = "http://DescargaMasivaTerceros.sat.gob.mx/IVerificaSolicitudDescargaService/VerificaSolicitudDescarga"
	ActionDownload        = "http://DescargaMasivaTerceros.sat.gob.mx/IDescargaMasivaTercerosService/Descargar"
)

// ── Namespaces ────────────────────────────────────────────────────────────────

const (
	NamespaceSOAP   = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceDes    = "http://DescargaMasivaTerceros.sat.gob.mx"
	NamespaceAuth   = "http://DescargaMasivaTerceros.gob.mx"
	NamespaceWSSE   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NamespaceWSU    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NamespaceDSig   = "http://www.w3.org/2000/09/xmldsig#"
	ValueTypeX509v3 = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"
	EncodingTypeB64 = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)
