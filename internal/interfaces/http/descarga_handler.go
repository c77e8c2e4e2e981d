package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sat-descarga-masiva/internal/application/dto"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// downloadService casos de uso de descarga.Service usados por el handler.
type downloadService interface {
	Start(ctx context.Context, companyID string, cred domainsat.Credential, f domainsat.DownloadFilter) (*entity.DownloadRequest, error)
	Poll(ctx context.Context, companyID, id string, cred domainsat.Credential) (*entity.DownloadRequest, error)
	WaitUntilReady(ctx context.Context, companyID, id string, cred domainsat.Credential) (*entity.DownloadRequest, error)
	DownloadPackages(ctx context.Context, companyID, id string, cred domainsat.Credential) ([]*entity.DownloadPackage, error)
	Get(ctx context.Context, companyID, id string) (*entity.DownloadRequest, error)
	List(ctx context.Context, companyID string, limit, offset int) ([]*entity.DownloadRequest, error)
	Packages(ctx context.Context, companyID, id string) ([]*entity.DownloadPackage, error)
	Package(ctx context.Context, companyID, id, packageID string) (*entity.DownloadPackage, error)
	Metadata(ctx context.Context, companyID, id string) ([]*entity.CFDIMetadata, error)
	Report(ctx context.Context, companyID, id string) ([]byte, error)
}

// DescargaHandler descargas persistidas por empresa (protegido).
type DescargaHandler struct {
	svc downloadService
}

// NewDescargaHandler construye el handler.
func NewDescargaHandler(svc downloadService) *DescargaHandler {
	return &DescargaHandler{svc: svc}
}

// Start godoc
// @Summary      Registrar y enviar una solicitud de descarga
// @Tags         descargas
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.StartDownloadRequest  true  "FIEL y filtros"
// @Success      201   {object}  dto.DownloadRequestResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      502   {object}  dto.ErrorResponse
// @Router       /api/descargas [post]
func (h *DescargaHandler) Start(c *fiber.Ctx) error {
	companyID, ok := requireCompany(c)
	if !ok {
		return nil
	}
	var in dto.StartDownloadRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	if err := in.Fiel.Validate(); err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}
	req, err := h.svc.Start(c.UserContext(), companyID, in.Fiel.Credential(), in.Filter())
	if err != nil {
		// Con ambigüedad o rechazo la solicitud quedó registrada; el cliente recibe ambos.
		if req != nil {
			return writeErrorWith(c, err, toRequestResponse(req))
		}
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toRequestResponse(req))
}

// List godoc
// @Summary      Listar solicitudes de descarga
// @Tags         descargas
// @Security     Bearer
// @Produce      json
// @Param        limit   query  int  false  "Límite"  default(20)
// @Param        offset  query  int  false  "Offset"  default(0)
// @Success      200     {object}  dto.ListResponse[dto.DownloadRequestResponse]
// @Router       /api/descargas [get]
func (h *DescargaHandler) List(c *fiber.Ctx) error {
	companyID, ok := requireCompany(c)
	if !ok {
		return nil
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return badRequest(c, "INVALID_QUERY", "parámetros de paginación inválidos")
	}
	page.DefaultPage()
	list, err := h.svc.List(c.UserContext(), companyID, page.Limit, page.Offset)
	if err != nil {
		return writeError(c, err)
	}
	items := make([]dto.DownloadRequestResponse, 0, len(list))
	for _, r := range list {
		items = append(items, toRequestResponse(r))
	}
	return c.JSON(dto.ListResponse[dto.DownloadRequestResponse]{
		Items: items,
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset, Count: len(items)},
	})
}

// Get godoc
// @Summary      Obtener solicitud de descarga
// @Tags         descargas
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID de la solicitud"
// @Success      200  {object}  dto.DownloadRequestResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/descargas/{id} [get]
func (h *DescargaHandler) Get(c *fiber.Ctx) error {
	companyID, ok := requireCompany(c)
	if !ok {
		return nil
	}
	req, err := h.svc.Get(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toRequestResponse(req))
}

// Poll godoc
// @Summary      Verificar una vez el estado en el SAT
// @Tags         descargas
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "ID de la solicitud"
// @Param        body  body  dto.FielOnlyRequest  true  "FIEL"
// @Success      200   {object}  dto.DownloadRequestResponse
// @Router       /api/descargas/{id}/verificar [post]
func (h *DescargaHandler) Poll(c *fiber.Ctx) error {
	return h.withFiel(c, func(companyID string, cred domainsat.Credential) error {
		req, err := h.svc.Poll(c.UserContext(), companyID, c.Params("id"), cred)
		if err != nil {
			if req != nil {
				return writeErrorWith(c, err, toRequestResponse(req))
			}
			return writeError(c, err)
		}
		return c.JSON(toRequestResponse(req))
	})
}

// Wait godoc
// @Summary      Verificar hasta que el SAT termine o se agoten los intentos
// @Tags         descargas
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "ID de la solicitud"
// @Param        body  body  dto.FielOnlyRequest  true  "FIEL"
// @Success      200   {object}  dto.DownloadRequestResponse
// @Success      202   {object}  dto.ErrorResponse
// @Router       /api/descargas/{id}/esperar [post]
func (h *DescargaHandler) Wait(c *fiber.Ctx) error {
	return h.withFiel(c, func(companyID string, cred domainsat.Credential) error {
		req, err := h.svc.WaitUntilReady(c.UserContext(), companyID, c.Params("id"), cred)
		if err != nil {
			if req != nil {
				return writeErrorWith(c, err, toRequestResponse(req))
			}
			return writeError(c, err)
		}
		return c.JSON(toRequestResponse(req))
	})
}

// Download godoc
// @Summary      Descargar y guardar los paquetes de una solicitud lista
// @Tags         descargas
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "ID de la solicitud"
// @Param        body  body  dto.FielOnlyRequest  true  "FIEL"
// @Success      200   {array}   dto.DownloadPackageResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/descargas/{id}/paquetes [post]
func (h *DescargaHandler) Download(c *fiber.Ctx) error {
	return h.withFiel(c, func(companyID string, cred domainsat.Credential) error {
		pkgs, err := h.svc.DownloadPackages(c.UserContext(), companyID, c.Params("id"), cred)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(toPackageResponses(pkgs))
	})
}

// Packages godoc
// @Summary      Listar paquetes descargados
// @Tags         descargas
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID de la solicitud"
// @Success      200  {array}  dto.DownloadPackageResponse
// @Router       /api/descargas/{id}/paquetes [get]
func (h *DescargaHandler) Packages(c *fiber.Ctx) error {
	companyID, ok := requireCompany(c)
	if !ok {
		return nil
	}
	pkgs, err := h.svc.Packages(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toPackageResponses(pkgs))
}

// Package godoc
// @Summary      Obtener el zip de un paquete
// @Tags         descargas
// @Security     Bearer
// @Produce      application/zip
// @Param        id       path  string  true  "ID de la solicitud"
// @Param        paquete  path  string  true  "IdPaquete"
// @Success      200
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/descargas/{id}/paquetes/{paquete} [get]
func (h *DescargaHandler) Package(c *fiber.Ctx) error {
	companyID, ok := requireCompany(c)
	if !ok {
		return nil
	}
	p, err := h.svc.Package(c.UserContext(), companyID, c.Params("id"), c.Params("paquete"))
	if err != nil {
		return writeError(c, err)
	}
	return sendZip(c, p.PackageID, p.Content)
}

// Metadata godoc
// @Summary      Renglones de metadata de una solicitud
// @Tags         descargas
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID de la solicitud"
// @Success      200  {array}  dto.MetadataResponse
// @Router       /api/descargas/{id}/metadata [get]
func (h *DescargaHandler) Metadata(c *fiber.Ctx) error {
	companyID, ok := requireCompany(c)
	if !ok {
		return nil
	}
	rows, err := h.svc.Metadata(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	out := make([]dto.MetadataResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, dto.MetadataResponse{
			UUID:         m.UUID,
			IssuerRFC:    m.IssuerRFC,
			IssuerName:   m.IssuerName,
			ReceiverRFC:  m.ReceiverRFC,
			ReceiverName: m.ReceiverName,
			IssuedAt:     formatTime(m.IssuedAt),
			Amount:       m.Amount,
			Effect:       m.Effect,
			Status:       m.Status,
		})
	}
	return c.JSON(out)
}

// Report godoc
// @Summary      Reporte PDF de la metadata
// @Tags         descargas
// @Security     Bearer
// @Produce      application/pdf
// @Param        id   path  string  true  "ID de la solicitud"
// @Success      200
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/descargas/{id}/reporte [get]
func (h *DescargaHandler) Report(c *fiber.Ctx) error {
	companyID, ok := requireCompany(c)
	if !ok {
		return nil
	}
	id := c.Params("id")
	pdf, err := h.svc.Report(c.UserContext(), companyID, id)
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, mimePDF)
	c.Set(fiber.HeaderContentDisposition, `inline; filename="metadata-`+id+`.pdf"`)
	return c.Send(pdf)
}

func (h *DescargaHandler) withFiel(c *fiber.Ctx, fn func(companyID string, cred domainsat.Credential) error) error {
	companyID, ok := requireCompany(c)
	if !ok {
		return nil
	}
	var in dto.FielOnlyRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	if err := in.Fiel.Validate(); err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}
	return fn(companyID, in.Fiel.Credential())
}

// requireCompany escribe 401 si el token no trae empresa.
func requireCompany(c *fiber.Ctx) (string, bool) {
	companyID := GetCompanyID(c)
	if companyID == "" {
		_ = c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "company_id requerido"})
		return "", false
	}
	return companyID, true
}

func toRequestResponse(r *entity.DownloadRequest) dto.DownloadRequestResponse {
	ids := r.PackageIDs
	if ids == nil {
		ids = []string{}
	}
	return dto.DownloadRequestResponse{
		ID:            r.ID,
		RFC:           r.RFC,
		Service:       r.Service,
		Kind:          r.Kind,
		RequestType:   r.RequestType,
		StartDate:     formatTime(r.StartDate),
		EndDate:       formatTime(r.EndDate),
		SATRequestID:  r.SATRequestID,
		Status:        r.Status,
		Polls:         r.Polls,
		NumberOfItems: r.NumberOfItems,
		PackageIDs:    ids,
		LastCode:      r.LastCode,
		LastMessage:   r.LastMessage,
		CreatedAt:     formatTime(r.CreatedAt),
		UpdatedAt:     formatTime(r.UpdatedAt),
	}
}

func toPackageResponses(pkgs []*entity.DownloadPackage) []dto.DownloadPackageResponse {
	out := make([]dto.DownloadPackageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, dto.DownloadPackageResponse{
			PackageID:    p.PackageID,
			Size:         p.Size,
			DownloadedAt: formatTime(p.DownloadedAt),
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
