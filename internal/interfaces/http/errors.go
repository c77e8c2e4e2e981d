package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sat-descarga-masiva/internal/application/descarga"
	"github.com/jhoicas/sat-descarga-masiva/internal/application/dto"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain"
	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

type errorMapping struct {
	kind   error
	status int
	code   string
}

// errorMappings en orden: el primero que coincide gana.
var errorMappings = []errorMapping{
	{domainsat.ErrInvalidPassphrase, fiber.StatusBadRequest, "INVALID_PASSPHRASE"},
	{domainsat.ErrCertificateMalformed, fiber.StatusBadRequest, "INVALID_CERTIFICATE"},
	{domainsat.ErrRequestDataIncomplete, fiber.StatusBadRequest, "REQUEST_DATA_INCOMPLETE"},
	{domainsat.ErrTokenExpired, fiber.StatusUnauthorized, "SAT_TOKEN_EXPIRED"},
	{domainsat.ErrAuthenticationRejected, fiber.StatusBadGateway, "SAT_AUTHENTICATION_REJECTED"},
	{domainsat.ErrDownloadRequestRejected, fiber.StatusBadGateway, "SAT_REQUEST_REJECTED"},
	{domainsat.ErrRequestRejected, fiber.StatusBadGateway, "SAT_REQUEST_REJECTED"},
	{domainsat.ErrRequestExpired, fiber.StatusGone, "SAT_REQUEST_EXPIRED"},
	{domainsat.ErrNetworkTimeout, fiber.StatusGatewayTimeout, "SAT_TIMEOUT"},
	{domainsat.ErrTransport, fiber.StatusBadGateway, "SAT_UNREACHABLE"},
	{domainsat.ErrRemoteFault, fiber.StatusBadGateway, "SAT_FAULT"},
	{domainsat.ErrMalformedResponse, fiber.StatusBadGateway, "SAT_MALFORMED_RESPONSE"},
	{domainsat.ErrInvalidPackage, fiber.StatusUnprocessableEntity, "INVALID_PACKAGE"},
	{domainsat.ErrInvalidTransition, fiber.StatusConflict, "INVALID_STATE"},
	{descarga.ErrStillProcessing, fiber.StatusAccepted, "STILL_PROCESSING"},
	{domain.ErrInvalidInput, fiber.StatusBadRequest, "VALIDATION"},
	{domain.ErrCredentialRequired, fiber.StatusBadRequest, "FIEL_REQUIRED"},
	{domain.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{domain.ErrConflict, fiber.StatusConflict, "CONFLICT"},
	{domain.ErrDuplicate, fiber.StatusConflict, "DUPLICATE"},
	{domain.ErrUnauthorized, fiber.StatusUnauthorized, "UNAUTHORIZED"},
	{domain.ErrForbidden, fiber.StatusForbidden, "FORBIDDEN"},
}

// writeError traduce errores del dominio y del SAT a dto.ErrorResponse.
func writeError(c *fiber.Ctx, err error) error {
	status, resp := errorResponse(err)
	return c.Status(status).JSON(resp)
}

// writeErrorWith igual que writeError, con la solicitud en el estado en que quedó.
func writeErrorWith(c *fiber.Ctx, err error, req dto.DownloadRequestResponse) error {
	status, resp := errorResponse(err)
	return c.Status(status).JSON(dto.DownloadErrorResponse{ErrorResponse: resp, Request: req})
}

func errorResponse(err error) (int, dto.ErrorResponse) {
	status, code := fiber.StatusInternalServerError, "INTERNAL"
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			status, code = m.status, m.code
			break
		}
	}
	resp := dto.ErrorResponse{Code: code, Message: err.Error()}
	if e, ok := domainsat.AsError(err); ok {
		resp.SATCode = e.StatusCode
		resp.SATMessage = e.Message
		resp.Ambiguous = e.Ambiguous
	}
	return status, resp
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: code, Message: message})
}
