package sat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

// XMLBuilderService construye los sobres SOAP (sin firma) de las cuatro operaciones.
// El sobre nunca forma parte del subárbol firmado.
type XMLBuilderService struct {
	now   func() time.Time
	newID func() string
}

// NewXMLBuilderService crea el servicio. now y newID pueden ser nil (reloj del sistema, UUID v4).
func NewXMLBuilderService(now func() time.Time, newID func() string) *XMLBuilderService {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &XMLBuilderService{now: now, newID: newID}
}

// ── Autenticación ─────────────────────────────────────────────────────────────

// BuildAuthenticate sobre de Autentica con u:Timestamp y o:BinarySecurityToken.
func (s *XMLBuilderService) BuildAuthenticate(cert *domainsat.ParsedCertificate) (*etree.Document, error) {
	if cert == nil || cert.RawBase64 == "" {
		return nil, incomplete("autenticacion", "certificado")
	}
	created := s.now().UTC().Truncate(time.Second)
	expires := created.Add(domainsat.TokenLifetime)

	doc, env := newEnvelope()
	env.CreateAttr("xmlns:u", pkgsat.NamespaceWSU)

	header := env.CreateElement("s:Header")
	security := header.CreateElement("o:Security")
	security.CreateAttr("s:mustUnderstand", "1")
	security.CreateAttr("xmlns:o", pkgsat.NamespaceWSSE)

	ts := security.CreateElement("u:Timestamp")
	ts.CreateAttr("u:Id", "_0")
	ts.CreateElement("u:Created").SetText(created.Format(pkgsat.TimestampLayout))
	ts.CreateElement("u:Expires").SetText(expires.Format(pkgsat.TimestampLayout))

	bst := security.CreateElement("o:BinarySecurityToken")
	bst.CreateAttr("u:Id", "uuid-"+s.newID()+"-1")
	bst.CreateAttr("ValueType", pkgsat.ValueTypeX509v3)
	bst.CreateAttr("EncodingType", pkgsat.EncodingTypeB64)
	bst.SetText(cert.RawBase64)

	body := env.CreateElement("s:Body")
	body.CreateElement("Autentica").CreateAttr("xmlns", pkgsat.NamespaceAuth)
	return doc, nil
}

// ── Solicitud ─────────────────────────────────────────────────────────────────

var requestOperations = map[domainsat.RequestKind]string{
	domainsat.RequestReceived: "SolicitaDescargaRecibidos",
	domainsat.RequestIssued:   "SolicitaDescargaEmitidos",
	domainsat.RequestFolio:    "SolicitaDescargaFolio",
}

var requiredAttributes = map[domainsat.RequestKind][]string{
	domainsat.RequestReceived: {pkgsat.AttrFechaInicial, pkgsat.AttrFechaFinal, pkgsat.AttrRfcReceptor, pkgsat.AttrRfcSolicitante, pkgsat.AttrTipoSolicitud},
	domainsat.RequestIssued:   {pkgsat.AttrFechaInicial, pkgsat.AttrFechaFinal, pkgsat.AttrRfcEmisor, pkgsat.AttrRfcSolicitante, pkgsat.AttrTipoSolicitud},
	domainsat.RequestFolio:    {pkgsat.AttrFolio, pkgsat.AttrRfcSolicitante},
}

var knownAttributes = map[string]bool{
	pkgsat.AttrFechaInicial: true, pkgsat.AttrFechaFinal: true, pkgsat.AttrRfcEmisor: true,
	pkgsat.AttrRfcReceptor: true, pkgsat.AttrRfcSolicitante: true, pkgsat.AttrTipoSolicitud: true,
	pkgsat.AttrTipoComprobante: true, pkgsat.AttrEstadoComprobante: true,
	pkgsat.AttrRfcACuentaTerceros: true, pkgsat.AttrComplemento: true, pkgsat.AttrFolio: true,
}

// BuildRequestDownload sobre de SolicitaDescarga{Recibidos,Emitidos,Folio}. Los atributos
// de des:solicitud se escriben en orden alfabético; los vacíos se omiten.
func (s *XMLBuilderService) BuildRequestDownload(kind domainsat.RequestKind, attrs map[string]string) (*etree.Document, error) {
	op, ok := requestOperations[kind]
	if !ok {
		return nil, &domainsat.Error{Kind: domainsat.ErrRequestDataIncomplete, Op: "solicitud", Message: fmt.Sprintf("tipo de solicitud %q desconocido", kind)}
	}
	clean := make(map[string]string, len(attrs))
	for k, v := range attrs {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !knownAttributes[k] {
			return nil, &domainsat.Error{Kind: domainsat.ErrRequestDataIncomplete, Op: "solicitud", Message: fmt.Sprintf("atributo %q no reconocido", k)}
		}
		clean[k] = v
	}
	var missing []string
	for _, k := range requiredAttributes[kind] {
		if clean[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, incomplete("solicitud", missing...)
	}
	if err := validateRequestValues(clean); err != nil {
		return nil, err
	}

	doc, env := newEnvelope()
	env.CreateAttr("xmlns:des", pkgsat.NamespaceDes)
	env.CreateElement("s:Header")
	solicitud := env.CreateElement("s:Body").CreateElement("des:" + op).CreateElement("des:solicitud")

	for _, k := range sortedAttrs(clean) {
		solicitud.CreateAttr(k, clean[k])
	}
	return doc, nil
}

// sortedAttrs nombres de atributo en orden ordinal (bytes), sin depender de la cultura.
func sortedAttrs(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func validateRequestValues(attrs map[string]string) error {
	var start, end time.Time
	for _, k := range []string{pkgsat.AttrFechaInicial, pkgsat.AttrFechaFinal} {
		v, ok := attrs[k]
		if !ok {
			continue
		}
		t, err := time.Parse(pkgsat.DateTimeLayout, v)
		if err != nil {
			return invalid(k, v)
		}
		if k == pkgsat.AttrFechaInicial {
			start = t
		} else {
			end = t
		}
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return &domainsat.Error{Kind: domainsat.ErrRequestDataIncomplete, Op: "solicitud", Message: "FechaInicial debe ser anterior a FechaFinal"}
	}
	if v, ok := attrs[pkgsat.AttrTipoSolicitud]; ok && !pkgsat.ValidRequestTypes[v] {
		return invalid(pkgsat.AttrTipoSolicitud, v)
	}
	if v, ok := attrs[pkgsat.AttrTipoComprobante]; ok && !pkgsat.ValidDocumentTypes[v] {
		return invalid(pkgsat.AttrTipoComprobante, v)
	}
	if v, ok := attrs[pkgsat.AttrEstadoComprobante]; ok && !pkgsat.ValidDocumentStatuses[v] {
		return invalid(pkgsat.AttrEstadoComprobante, v)
	}
	for _, k := range []string{pkgsat.AttrRfcEmisor, pkgsat.AttrRfcReceptor, pkgsat.AttrRfcSolicitante, pkgsat.AttrRfcACuentaTerceros} {
		if v, ok := attrs[k]; ok {
			if err := pkgsat.ValidateRFC(v); err != nil {
				return invalid(k, v)
			}
		}
	}
	return nil
}

// ── Verificación y descarga ───────────────────────────────────────────────────

// BuildVerifyStatus sobre de VerificaSolicitudDescarga.
func (s *XMLBuilderService) BuildVerifyStatus(requestID, rfc string) (*etree.Document, error) {
	requestID, rfc = strings.TrimSpace(requestID), strings.TrimSpace(rfc)
	if requestID == "" || rfc == "" {
		return nil, incomplete("verificacion", missingNames(map[string]string{pkgsat.AttrIdSolicitud: requestID, pkgsat.AttrRfcSolicitante: rfc})...)
	}
	doc, env := newEnvelope()
	env.CreateAttr("xmlns:des", pkgsat.NamespaceDes)
	env.CreateElement("s:Header")
	solicitud := env.CreateElement("s:Body").CreateElement("des:VerificaSolicitudDescarga").CreateElement("des:solicitud")
	solicitud.CreateAttr(pkgsat.AttrIdSolicitud, requestID)
	solicitud.CreateAttr(pkgsat.AttrRfcSolicitante, rfc)
	return doc, nil
}

// BuildRetrievePackage sobre de Descargar (PeticionDescargaMasivaTercerosEntrada).
func (s *XMLBuilderService) BuildRetrievePackage(packageID, rfc string) (*etree.Document, error) {
	packageID, rfc = strings.TrimSpace(packageID), strings.TrimSpace(rfc)
	if packageID == "" || rfc == "" {
		return nil, incomplete("descarga", missingNames(map[string]string{pkgsat.AttrIdPaquete: packageID, pkgsat.AttrRfcSolicitante: rfc})...)
	}
	doc, env := newEnvelope()
	env.CreateAttr("xmlns:des", pkgsat.NamespaceDes)
	env.CreateElement("s:Header")
	peticion := env.CreateElement("s:Body").CreateElement("des:PeticionDescargaMasivaTercerosEntrada").CreateElement("des:peticionDescarga")
	peticion.CreateAttr(pkgsat.AttrIdPaquete, packageID)
	peticion.CreateAttr(pkgsat.AttrRfcSolicitante, rfc)
	return doc, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func newEnvelope() (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", pkgsat.NamespaceSOAP)
	return doc, env
}

func incomplete(op string, fields ...string) error {
	return &domainsat.Error{
		Kind:    domainsat.ErrRequestDataIncomplete,
		Op:      op,
		Message: "faltan: " + strings.Join(fields, ", "),
	}
}

func invalid(field, value string) error {
	return &domainsat.Error{
		Kind:    domainsat.ErrRequestDataIncomplete,
		Op:      "solicitud",
		Message: fmt.Sprintf("valor inválido en %s: %q", field, value),
	}
}

func missingNames(fields map[string]string) []string {
	var out []string
	for k, v := range fields {
		if v == "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
