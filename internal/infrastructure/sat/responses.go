package sat

import (
	"encoding/xml"
	"strings"
)

// Estructuras de respuesta. encoding/xml compara por nombre local cuando la etiqueta
// no lleva namespace, así que los prefijos del SAT no importan.

type responseEnvelope struct {
	Header responseHeader `xml:"Header"`
	Body   responseBody   `xml:"Body"`
}

type responseHeader struct {
	Respuesta *downloadHeader `xml:"respuesta"`
}

type responseBody struct {
	Fault     *soapFault         `xml:"Fault"`
	Autentica *autenticaResponse `xml:"AutenticaResponse"`
	Recibidos *solicitaResponse  `xml:"SolicitaDescargaRecibidosResponse"`
	Emitidos  *solicitaResponse  `xml:"SolicitaDescargaEmitidosResponse"`
	Folio     *solicitaResponse  `xml:"SolicitaDescargaFolioResponse"`
	Verifica  *verificaResponse  `xml:"VerificaSolicitudDescargaResponse"`
	Descarga  *descargaResponse  `xml:"RespuestaDescargaMasivaTercerosSalida"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail      struct {
		Inner string `xml:",innerxml"`
	} `xml:"detail"`
}

func (f *soapFault) code() string {
	return strings.TrimSpace(f.FaultCode)
}

func (f *soapFault) message() string {
	return strings.TrimSpace(f.FaultString)
}

type autenticaResponse struct {
	Result string `xml:"AutenticaResult"`
}

type solicitaResponse struct {
	Result solicitaResult `xml:",any"`
}

type solicitaResult struct {
	XMLName        xml.Name
	IDSolicitud    string `xml:"IdSolicitud,attr"`
	RfcSolicitante string `xml:"RfcSolicitante,attr"`
	CodEstatus     string `xml:"CodEstatus,attr"`
	Mensaje        string `xml:"Mensaje,attr"`
}

type verificaResponse struct {
	Result verificaResult `xml:"VerificaSolicitudDescargaResult"`
}

type verificaResult struct {
	CodEstatus            string   `xml:"CodEstatus,attr"`
	EstadoSolicitud       string   `xml:"EstadoSolicitud,attr"`
	CodigoEstadoSolicitud string   `xml:"CodigoEstadoSolicitud,attr"`
	NumeroCFDIs           string   `xml:"NumeroCFDIs,attr"`
	Mensaje               string   `xml:"Mensaje,attr"`
	IdsPaquetes           []string `xml:"IdsPaquetes"`
}

type downloadHeader struct {
	CodEstatus string `xml:"CodEstatus,attr"`
	Mensaje    string `xml:"Mensaje,attr"`
}

type descargaResponse struct {
	Paquete string `xml:"Paquete"`
}

func (b *responseBody) solicita() *solicitaResponse {
	switch {
	case b.Recibidos != nil:
		return b.Recibidos
	case b.Emitidos != nil:
		return b.Emitidos
	default:
		return b.Folio
	}
}
