package http

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sat-descarga-masiva/internal/application/dto"
	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
	"github.com/jhoicas/sat-descarga-masiva/pkg/logger"
)

const (
	mimeZip = "application/zip"
	mimePDF = "application/pdf"
)

// satProxy operaciones del cliente de protocolo que expone el proxy (sat.ProtocolClient).
type satProxy interface {
	Authenticate(ctx context.Context, cred domainsat.Credential) (*domainsat.SessionToken, error)
	RequestDownload(ctx context.Context, token *domainsat.SessionToken, cred domainsat.Credential, kind domainsat.RequestKind, attrs map[string]string) (string, error)
	VerifyStatus(ctx context.Context, token *domainsat.SessionToken, cred domainsat.Credential, requestID string) (*domainsat.VerificationStatus, error)
	RetrievePackage(ctx context.Context, token *domainsat.SessionToken, cred domainsat.Credential, packageID string) (*domainsat.Package, error)
}

// SATHandler rutas sin estado: cada petición trae la FIEL y el token del SAT.
type SATHandler struct {
	sat satProxy
	log *logger.Logger
	now func() time.Time
}

// NewSATHandler construye el handler.
func NewSATHandler(sat satProxy, log *logger.Logger) *SATHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SATHandler{sat: sat, log: log, now: time.Now}
}

// Authenticate obtiene un token del SAT.
// POST /api/sat/autentica
func (h *SATHandler) Authenticate(c *fiber.Ctx) error {
	var in dto.AuthenticateRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	fiel := in.FIEL()
	if err := fiel.Validate(); err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}
	tok, err := h.sat.Authenticate(c.UserContext(), fiel.Credential())
	if err != nil {
		return h.fail(c, "autenticacion", err)
	}
	return c.JSON(dto.TokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt})
}

// RequestReceived solicita comprobantes recibidos.
// POST /api/sat/descarga/recibidos
func (h *SATHandler) RequestReceived(c *fiber.Ctx) error {
	return h.request(c, domainsat.RequestReceived)
}

// RequestIssued solicita comprobantes emitidos.
// POST /api/sat/descarga/emitidos
func (h *SATHandler) RequestIssued(c *fiber.Ctx) error {
	return h.request(c, domainsat.RequestIssued)
}

// RequestFolio solicita un comprobante por UUID.
// POST /api/sat/descarga/folio
func (h *SATHandler) RequestFolio(c *fiber.Ctx) error {
	return h.request(c, domainsat.RequestFolio)
}

func (h *SATHandler) request(c *fiber.Ctx, kind domainsat.RequestKind) error {
	var in dto.SolicitudRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	if in.AuthToken == "" || len(in.RequestData) == 0 {
		return badRequest(c, "VALIDATION", "se requiere: authToken, fiel, requestData")
	}
	if err := in.Fiel.Validate(); err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}
	id, err := h.sat.RequestDownload(c.UserContext(), h.token(in.AuthToken), in.Fiel.Credential(), kind, in.Attributes())
	if err != nil {
		return h.fail(c, "solicitud", err)
	}
	return c.JSON(dto.SolicitudResponse{IDSolicitud: id})
}

// Verify consulta el estado de una solicitud.
// POST /api/sat/verificacion
func (h *SATHandler) Verify(c *fiber.Ctx) error {
	var in dto.VerificacionRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	if in.AuthToken == "" || in.IDSolicitud == "" {
		return badRequest(c, "VALIDATION", "se requiere: authToken, fiel, idSolicitud")
	}
	if err := in.Fiel.Validate(); err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}
	st, err := h.sat.VerifyStatus(c.UserContext(), h.token(in.AuthToken), in.Fiel.Credential(), in.IDSolicitud)
	if err != nil {
		return h.fail(c, "verificacion", err)
	}
	return c.JSON(dto.NewVerificacionResponse(st))
}

// Package descarga un paquete. Devuelve el zip, o JSON con el zip en Base64 si el
// cliente pide Accept: application/json.
// POST /api/sat/descarga/paquetes
func (h *SATHandler) Package(c *fiber.Ctx) error {
	var in dto.PaqueteRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	if in.AuthToken == "" || in.IDPaquete == "" {
		return badRequest(c, "VALIDATION", "se requiere: authToken, fiel, idPaquete")
	}
	if err := in.Fiel.Validate(); err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}
	pkg, err := h.sat.RetrievePackage(c.UserContext(), h.token(in.AuthToken), in.Fiel.Credential(), in.IDPaquete)
	if err != nil {
		return h.fail(c, "descarga", err)
	}
	if wantsJSON(c) {
		return c.JSON(dto.NewPaqueteResponse(pkg))
	}
	return sendZip(c, pkg.ID, pkg.Content)
}

// token el cliente administra la vigencia; el SAT rechaza un token vencido.
func (h *SATHandler) token(value string) *domainsat.SessionToken {
	tok := domainsat.NewSessionToken(strings.TrimSpace(value), h.now())
	return &tok
}

func (h *SATHandler) fail(c *fiber.Ctx, op string, err error) error {
	h.log.Warn().Err(err).Str("operation", op).Bool("ambiguous", domainsat.IsAmbiguous(err)).Msg("sat: operación fallida")
	return writeError(c, err)
}

func wantsJSON(c *fiber.Ctx) bool {
	return c.Accepts(mimeZip, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}

func sendZip(c *fiber.Ctx, name string, content []byte) error {
	c.Set(fiber.HeaderContentType, mimeZip)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`.zip"`)
	return c.Send(content)
}
