package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/sat-descarga-masiva/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	SAT       satProxy
	Downloads downloadService
	JWTSecret string
	Gatherer  prometheus.Gatherer // nil: sin /metrics
	AppName   string
	Logger    *logger.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": deps.AppName})
	})
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")

	// Proxy sin estado hacia el SAT (público: la FIEL viaja en cada petición)
	if deps.SAT != nil {
		satGroup := api.Group("/sat")
		satHandler := NewSATHandler(deps.SAT, deps.Logger)
		satGroup.Post("/autentica", satHandler.Authenticate)
		satGroup.Post("/descarga/recibidos", satHandler.RequestReceived)
		satGroup.Post("/descarga/emitidos", satHandler.RequestIssued)
		satGroup.Post("/descarga/folio", satHandler.RequestFolio)
		satGroup.Post("/verificacion", satHandler.Verify)
		satGroup.Post("/descarga/paquetes", satHandler.Package)
	}

	// Descargas persistidas (requieren Bearer Token)
	if deps.Downloads != nil {
		descargas := api.Group("/descargas", AuthMiddleware(deps.JWTSecret))
		h := NewDescargaHandler(deps.Downloads)
		descargas.Post("/", h.Start)
		descargas.Get("/", h.List)
		descargas.Get("/:id", h.Get)
		descargas.Post("/:id/verificar", h.Poll)
		descargas.Post("/:id/esperar", h.Wait)
		descargas.Post("/:id/paquetes", h.Download)
		descargas.Get("/:id/paquetes", h.Packages)
		descargas.Get("/:id/paquetes/:paquete", h.Package)
		descargas.Get("/:id/metadata", h.Metadata)
		descargas.Get("/:id/reporte", h.Report)
	}
}
