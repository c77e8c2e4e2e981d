package sat

import (
	"time"

	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

// DownloadFilter parámetros tipados de una solicitud de descarga.
type DownloadFilter struct {
	Kind           RequestKind
	Start          time.Time
	End            time.Time
	RequesterRFC   string
	IssuerRFC      string // RfcEmisor
	ReceiverRFC    string // RfcReceptor
	RequestType    string // CFDI | Metadata
	DocumentType   string // TipoComprobante (opcional)
	DocumentStatus string // EstadoComprobante (opcional)
	ThirdPartyRFC  string // RfcACuentaTerceros (opcional)
	Complement     string // Complemento (opcional)
	Folio          string // UUID, sólo para RequestFolio
}

// Attributes atributos de des:solicitud. Los valores vacíos se omiten.
func (f DownloadFilter) Attributes() map[string]string {
	attrs := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	set(pkgsat.AttrRfcSolicitante, pkgsat.NormalizeRFC(f.RequesterRFC))
	if f.Kind == RequestFolio {
		set(pkgsat.AttrFolio, f.Folio)
		return attrs
	}
	if !f.Start.IsZero() {
		set(pkgsat.AttrFechaInicial, f.Start.Format(pkgsat.DateTimeLayout))
	}
	if !f.End.IsZero() {
		set(pkgsat.AttrFechaFinal, f.End.Format(pkgsat.DateTimeLayout))
	}
	set(pkgsat.AttrRfcEmisor, pkgsat.NormalizeRFC(f.IssuerRFC))
	set(pkgsat.AttrRfcReceptor, pkgsat.NormalizeRFC(f.ReceiverRFC))
	requestType := f.RequestType
	if requestType == "" {
		requestType = pkgsat.RequestTypeCFDI
	}
	set(pkgsat.AttrTipoSolicitud, requestType)
	set(pkgsat.AttrTipoComprobante, f.DocumentType)
	set(pkgsat.AttrEstadoComprobante, f.DocumentStatus)
	set(pkgsat.AttrRfcACuentaTerceros, pkgsat.NormalizeRFC(f.ThirdPartyRFC))
	set(pkgsat.AttrComplemento, f.Complement)
	return attrs
}
