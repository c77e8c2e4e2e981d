package sat

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
	"github.com/jhoicas/sat-descarga-masiva/internal/infrastructure/sat/signer"
	"github.com/jhoicas/sat-descarga-masiva/pkg/logger"
	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

// ── Puertos ───────────────────────────────────────────────────────────────────

// Signer firma el documento con la estrategia de la operación.
type Signer interface {
	Sign(doc *etree.Document, strategy signer.Strategy, key *domainsat.SigningKey, cert *domainsat.ParsedCertificate) (*signer.SignedDocument, error)
}

var _ Signer = (*signer.SignatureService)(nil)

// ── Cliente ───────────────────────────────────────────────────────────────────

// ProtocolClient operaciones sin estado del servicio de descarga masiva. Seguro para
// uso concurrente: sólo guarda configuración inmutable y el cliente HTTP.
type ProtocolClient struct {
	credentials *CredentialProcessor
	builder     *XMLBuilderService
	signer      Signer
	transport   *SOAPClient
	endpoints   pkgsat.Endpoints
	metrics     *Metrics
	log         *logger.Logger
	now         func() time.Time
}

// ProtocolOptions dependencias opcionales del cliente.
type ProtocolOptions struct {
	Signer    Signer           // nil: SHA-1
	Transport *SOAPClient      // nil: NewSOAPClient(0, 0)
	Metrics   *Metrics         // nil: sin métricas
	Logger    *logger.Logger   // nil: descartado
	Now       func() time.Time // nil: time.Now
	NewID     func() string    // nil: UUID v4
}

// NewProtocolClient construye el cliente para los endpoints indicados.
func NewProtocolClient(endpoints pkgsat.Endpoints, opts ProtocolOptions) *ProtocolClient {
	if opts.Signer == nil {
		opts.Signer = signer.NewSignatureService(signer.ProfileSHA1)
	}
	if opts.Transport == nil {
		opts.Transport = NewSOAPClient(0, 0)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ProtocolClient{
		credentials: NewCredentialProcessor(),
		builder:     NewXMLBuilderService(opts.Now, opts.NewID),
		signer:      opts.Signer,
		transport:   opts.Transport,
		endpoints:   endpoints,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         opts.Now,
	}
}

// Endpoints URLs en uso.
func (c *ProtocolClient) Endpoints() pkgsat.Endpoints { return c.endpoints }

// ── Autentica ─────────────────────────────────────────────────────────────────

// Authenticate obtiene un token de sesión. Un Fault del SAT se devuelve como
// ErrAuthenticationRejected con el código y mensaje tal cual.
func (c *ProtocolClient) Authenticate(ctx context.Context, cred domainsat.Credential) (_ *domainsat.SessionToken, err error) {
	const op = "autenticacion"
	defer c.track(op, time.Now(), &err)

	cert, key, err := c.credentials.Load(cred)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	doc, err := c.builder.BuildAuthenticate(cert)
	if err != nil {
		return nil, err
	}
	issuedAt, err := time.Parse(pkgsat.TimestampLayout, doc.FindElement("//Timestamp/Created").Text())
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrSignatureComputationFailed, op, err)
	}

	env, reply, err := c.exchange(ctx, exchange{
		op:       op,
		url:      c.endpoints.Authenticate,
		action:   pkgsat.ActionAuthenticate,
		doc:      doc,
		strategy: signer.AuthenticationStrategy,
		key:      key,
		cert:     cert,
		fault:    domainsat.ErrAuthenticationRejected,
	})
	if err != nil {
		return nil, err
	}
	if env.Body.Autentica == nil {
		return nil, malformed(op, reply.body, "sin AutenticaResponse")
	}
	if strings.TrimSpace(env.Body.Autentica.Result) == "" {
		return nil, &domainsat.Error{Kind: domainsat.ErrAuthenticationRejected, Op: op, Message: "AutenticaResult vacío", Body: reply.body}
	}
	token := domainsat.NewSessionToken(strings.TrimSpace(env.Body.Autentica.Result), issuedAt)
	return &token, nil
}

// ── SolicitaDescarga ──────────────────────────────────────────────────────────

var requestActions = map[domainsat.RequestKind]string{
	domainsat.RequestReceived: pkgsat.ActionRequestReceived,
	domainsat.RequestIssued:   pkgsat.ActionRequestIssued,
	domainsat.RequestFolio:    pkgsat.ActionRequestFolio,
}

// RequestDownload registra una solicitud de descarga y devuelve su IdSolicitud.
// Cualquier CodEstatus distinto de 5000 es ErrDownloadRequestRejected.
func (c *ProtocolClient) RequestDownload(ctx context.Context, token *domainsat.SessionToken, cred domainsat.Credential, kind domainsat.RequestKind, attrs map[string]string) (_ string, err error) {
	const op = "solicitud"
	defer c.track(op, time.Now(), &err)

	if err := c.checkToken(op, token); err != nil {
		return "", err
	}
	doc, err := c.builder.BuildRequestDownload(kind, attrs)
	if err != nil {
		return "", err
	}
	cert, key, err := c.credentials.Load(cred)
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	env, reply, err := c.exchange(ctx, exchange{
		op:       op,
		url:      c.endpoints.Request,
		action:   requestActions[kind],
		token:    token.Value,
		doc:      doc,
		strategy: signer.RequestStrategy,
		key:      key,
		cert:     cert,
		fault:    domainsat.ErrRemoteFault,
	})
	if err != nil {
		return "", err
	}
	resp := env.Body.solicita()
	if resp == nil || resp.Result.CodEstatus == "" {
		return "", malformed(op, reply.body, "sin resultado de SolicitaDescarga")
	}
	result := resp.Result
	if result.CodEstatus != pkgsat.StatusAccepted {
		return "", &domainsat.Error{
			Kind:       domainsat.ErrDownloadRequestRejected,
			Op:         op,
			StatusCode: result.CodEstatus,
			Message:    result.Mensaje,
		}
	}
	if strings.TrimSpace(result.IDSolicitud) == "" {
		return "", malformed(op, reply.body, "CodEstatus 5000 sin IdSolicitud")
	}
	return strings.TrimSpace(result.IDSolicitud), nil
}

// ── VerificaSolicitudDescarga ─────────────────────────────────────────────────

// VerifyStatus consulta el estado de la solicitud. Terminada sin paquetes es una
// respuesta mal formada.
func (c *ProtocolClient) VerifyStatus(ctx context.Context, token *domainsat.SessionToken, cred domainsat.Credential, requestID string) (_ *domainsat.VerificationStatus, err error) {
	const op = "verificacion"
	defer c.track(op, time.Now(), &err)

	if err := c.checkToken(op, token); err != nil {
		return nil, err
	}
	cert, key, err := c.credentials.Load(cred)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	doc, err := c.builder.BuildVerifyStatus(requestID, c.requester(cred, cert))
	if err != nil {
		return nil, err
	}
	env, reply, err := c.exchange(ctx, exchange{
		op:       op,
		url:      c.endpoints.Verify,
		action:   pkgsat.ActionVerify,
		token:    token.Value,
		doc:      doc,
		strategy: signer.VerificationStrategy,
		key:      key,
		cert:     cert,
		fault:    domainsat.ErrRemoteFault,
	})
	if err != nil {
		return nil, err
	}
	if env.Body.Verifica == nil || env.Body.Verifica.Result.CodEstatus == "" {
		return nil, malformed(op, reply.body, "sin VerificaSolicitudDescargaResult")
	}
	r := env.Body.Verifica.Result
	if r.CodEstatus != pkgsat.StatusAccepted {
		return nil, &domainsat.Error{Kind: domainsat.ErrRemoteFault, Op: op, StatusCode: r.CodEstatus, Message: r.Mensaje}
	}
	state, err := strconv.Atoi(strings.TrimSpace(r.EstadoSolicitud))
	if err != nil || state < int(domainsat.RequestStateAccepted) || state > int(domainsat.RequestStateExpired) {
		return nil, malformed(op, reply.body, fmt.Sprintf("EstadoSolicitud %q desconocido", r.EstadoSolicitud))
	}
	items := 0
	if n := strings.TrimSpace(r.NumeroCFDIs); n != "" {
		if items, err = strconv.Atoi(n); err != nil {
			return nil, malformed(op, reply.body, fmt.Sprintf("NumeroCFDIs %q inválido", n))
		}
	}
	ids := make([]string, 0, len(r.IdsPaquetes))
	for _, id := range r.IdsPaquetes {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	status := &domainsat.VerificationStatus{
		State:             domainsat.RequestState(state),
		NumberOfItems:     items,
		PackageIDs:        ids,
		StatusCode:        r.CodEstatus,
		StatusMessage:     r.Mensaje,
		RequestStatusCode: r.CodigoEstadoSolicitud,
	}
	if status.State == domainsat.RequestStateFinished && len(ids) == 0 {
		return nil, malformed(op, reply.body, "solicitud terminada sin paquetes")
	}
	return status, nil
}

// ── Descargar ─────────────────────────────────────────────────────────────────

// RetrievePackage descarga un paquete. El SAT limita las descargas por paquete:
// la operación no se reintenta aquí.
func (c *ProtocolClient) RetrievePackage(ctx context.Context, token *domainsat.SessionToken, cred domainsat.Credential, packageID string) (_ *domainsat.Package, err error) {
	const op = "descarga"
	defer c.track(op, time.Now(), &err)

	if err := c.checkToken(op, token); err != nil {
		return nil, err
	}
	cert, key, err := c.credentials.Load(cred)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	doc, err := c.builder.BuildRetrievePackage(packageID, c.requester(cred, cert))
	if err != nil {
		return nil, err
	}
	env, reply, err := c.exchange(ctx, exchange{
		op:       op,
		url:      c.endpoints.Download,
		action:   pkgsat.ActionDownload,
		token:    token.Value,
		doc:      doc,
		strategy: signer.PackageStrategy,
		key:      key,
		cert:     cert,
		fault:    domainsat.ErrRemoteFault,
	})
	if err != nil {
		return nil, err
	}
	if h := env.Header.Respuesta; h != nil && h.CodEstatus != "" && h.CodEstatus != pkgsat.StatusAccepted {
		return nil, &domainsat.Error{Kind: domainsat.ErrRemoteFault, Op: op, StatusCode: h.CodEstatus, Message: h.Mensaje}
	}
	if env.Body.Descarga == nil || strings.TrimSpace(env.Body.Descarga.Paquete) == "" {
		return nil, malformed(op, reply.body, "sin Paquete")
	}
	content, err := base64.StdEncoding.DecodeString(stripSpaces(env.Body.Descarga.Paquete))
	if err != nil {
		return nil, &domainsat.Error{Kind: domainsat.ErrMalformedResponse, Op: op, Message: "Paquete no es Base64", Body: reply.body, Err: err}
	}
	return &domainsat.Package{ID: packageID, Content: content}, nil
}

// ── Intercambio ───────────────────────────────────────────────────────────────

type exchange struct {
	op       string
	url      string
	action   string
	token    string
	doc      *etree.Document
	strategy signer.Strategy
	key      *domainsat.SigningKey
	cert     *domainsat.ParsedCertificate
	fault    error // tipo de error para un SOAP Fault
}

// exchange firma, destruye la llave, envía y decodifica la respuesta.
func (c *ProtocolClient) exchange(ctx context.Context, x exchange) (*responseEnvelope, *soapReply, error) {
	signed, err := c.signer.Sign(x.doc, x.strategy, x.key, x.cert)
	x.key.Destroy()
	if err != nil {
		return nil, nil, err
	}
	payload, err := signed.Bytes()
	if err != nil {
		return nil, nil, domainsat.NewError(domainsat.ErrSignatureComputationFailed, x.op, err)
	}
	if ev := c.log.Trace(); ev.Enabled() {
		ev.Str("operation", x.op).Str("xml", elideCertificate(string(payload))).Msg("sat: sobre firmado")
	}

	start := time.Now()
	reply, err := c.transport.Post(ctx, soapCall{op: x.op, url: x.url, action: x.action, token: x.token, payload: payload})
	if err != nil {
		c.log.Warn().Err(err).Str("operation", x.op).Str("endpoint", x.url).
			Bool("ambiguous", domainsat.IsAmbiguous(err)).Dur("duration", time.Since(start)).Msg("sat: fallo de transporte")
		return nil, nil, err
	}
	c.log.Debug().Str("operation", x.op).Str("endpoint", x.url).Int("http_status", reply.status).
		Dur("duration", time.Since(start)).Msg("sat: respuesta recibida")

	var env responseEnvelope
	if err := xml.Unmarshal(reply.body, &env); err != nil {
		if reply.status >= 300 {
			return nil, nil, &domainsat.Error{Kind: domainsat.ErrRemoteFault, Op: x.op, StatusCode: strconv.Itoa(reply.status), Body: reply.body, Err: err}
		}
		return nil, nil, &domainsat.Error{Kind: domainsat.ErrMalformedResponse, Op: x.op, Body: reply.body, Err: err}
	}
	if f := env.Body.Fault; f != nil {
		return nil, nil, &domainsat.Error{Kind: x.fault, Op: x.op, StatusCode: f.code(), Message: f.message(), Body: reply.body}
	}
	if reply.status >= 300 {
		return nil, nil, &domainsat.Error{Kind: domainsat.ErrRemoteFault, Op: x.op, StatusCode: strconv.Itoa(reply.status), Body: reply.body}
	}
	return &env, reply, nil
}

func (c *ProtocolClient) checkToken(op string, token *domainsat.SessionToken) error {
	if token == nil || token.Expired(c.now()) {
		return domainsat.NewError(domainsat.ErrTokenExpired, op, nil)
	}
	return nil
}

// requester RFC del solicitante: el de la credencial o, en su defecto, el del certificado.
func (c *ProtocolClient) requester(cred domainsat.Credential, cert *domainsat.ParsedCertificate) string {
	if rfc := pkgsat.NormalizeRFC(cred.RFC); rfc != "" {
		return rfc
	}
	return cert.RFC
}

func (c *ProtocolClient) track(op string, start time.Time, err *error) {
	c.metrics.observe(op, start, *err)
	if *err != nil {
		if e, ok := domainsat.AsError(*err); ok && e.StatusCode != "" {
			c.log.Info().Str("operation", op).Str("cod_estatus", e.StatusCode).Str("mensaje", e.Message).Msg("sat: operación rechazada")
		}
	}
}

func malformed(op string, body []byte, msg string) error {
	return &domainsat.Error{Kind: domainsat.ErrMalformedResponse, Op: op, Message: msg, Body: body}
}

var certElements = regexp.MustCompile(`(?s)(<[^>]*(?:BinarySecurityToken|X509Certificate)[^>]*>)[^<]*(</)`)

// elideCertificate acorta el certificado en las trazas.
func elideCertificate(s string) string {
	return certElements.ReplaceAllString(s, "${1}…${2}")
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
