package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhoicas/sat-descarga-masiva/internal/application/descarga"
	infrapdf "github.com/jhoicas/sat-descarga-masiva/internal/infrastructure/pdf"
	"github.com/jhoicas/sat-descarga-masiva/internal/infrastructure/postgres"
	infrasat "github.com/jhoicas/sat-descarga-masiva/internal/infrastructure/sat"
	httpRouter "github.com/jhoicas/sat-descarga-masiva/internal/interfaces/http"
	"github.com/jhoicas/sat-descarga-masiva/pkg/config"
	"github.com/jhoicas/sat-descarga-masiva/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("sat_service", cfg.SAT.Service).
		Str("signature", cfg.SAT.SignatureAlgorithm).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migraciones")
	}

	requestRepo := postgres.NewDownloadRequestRepository(pool)
	packageRepo := postgres.NewDownloadPackageRepository(pool)
	metadataRepo := postgres.NewMetadataRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := infrasat.NewMetrics(registry)

	// Cliente de protocolo: endpoints del servicio elegido, firma SHA-1 salvo SAT_SIGNATURE_ALGORITHM
	protocol, err := infrasat.NewProtocolClientFromConfig(cfg.SAT, metrics, log.Component("sat"))
	if err != nil {
		log.Fatal().Err(err).Msg("cliente SAT")
	}

	downloads := descarga.NewService(
		requestRepo, packageRepo, metadataRepo, txRunner,
		infrasat.NewSessionClient(protocol),
		infrasat.NewPackageReader(),
		infrapdf.NewMarotoReportGenerator(),
		descarga.Config{
			Service:      cfg.SAT.Service,
			PollInterval: cfg.SAT.PollInterval(),
			MaxAttempts:  cfg.SAT.PollMaxAttempts,
		},
		log.Component("descarga"),
	)

	// Los paquetes llegan en Base64 dentro del SOAP: el WriteTimeout cubre la descarga completa
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.SAT.Timeout() + 30*time.Second,
		IdleTimeout:  time.Second * 60,
		BodyLimit:    8 << 20,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "SAT Descarga Masiva API",
	}))

	httpRouter.Router(app, httpRouter.RouterDeps{
		SAT:       protocol,
		Downloads: downloads,
		JWTSecret: cfg.JWT.Secret,
		Gatherer:  registry,
		AppName:   cfg.App.Name,
		Logger:    log.Component("http"),
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
