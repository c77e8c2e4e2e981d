// descarga cliente de línea de comandos de la Descarga Masiva del SAT.
//
// Uso:
//
//	descarga autentica --cer fiel.cer --key fiel.key --password ...
//	descarga solicita --tipo recibidos --desde 2024-01-01 --hasta 2024-01-31 --p12 fiel.pfx --password ...
//	descarga verifica --id <IdSolicitud> --cer ... --key ... --password ...
//	descarga paquete --id <IdPaquete> --salida ./paquetes --cer ... --key ... --password ...
//	descarga token --user <id> --company <id>
//
// La configuración (SAT_SERVICE, SAT_SIGNATURE_ALGORITHM, URLs...) se lee igual que en la API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
	infrasat "github.com/jhoicas/sat-descarga-masiva/internal/infrastructure/sat"
	"github.com/jhoicas/sat-descarga-masiva/pkg/config"
	"github.com/jhoicas/sat-descarga-masiva/pkg/jwt"
	"github.com/jhoicas/sat-descarga-masiva/pkg/logger"
)

var flagCer = &cli.StringFlag{
	Name:    "cer",
	Usage:   "Certificado de la FIEL (.cer, DER o PEM)",
	EnvVars: []string{"FIEL_CER"},
}
var flagKey = &cli.StringFlag{
	Name:    "key",
	Usage:   "Llave privada de la FIEL (.key, PKCS#8 cifrada)",
	EnvVars: []string{"FIEL_KEY"},
}
var flagP12 = &cli.StringFlag{
	Name:    "p12",
	Usage:   "Archivo .pfx/.p12 con certificado y llave (alternativa a --cer/--key)",
	EnvVars: []string{"FIEL_P12"},
}
var flagPassword = &cli.StringFlag{
	Name:    "password",
	Usage:   "Contraseña de la llave privada",
	EnvVars: []string{"FIEL_PASSWORD"},
}
var flagRFC = &cli.StringFlag{
	Name:  "rfc",
	Usage: "RFC del solicitante (por omisión, el del certificado)",
}
var flagToken = &cli.StringFlag{
	Name:  "token",
	Usage: "Token del SAT ya emitido; si falta se autentica primero",
}
var flagService = &cli.StringFlag{
	Name:  "servicio",
	Usage: "cfdi | retenciones (por omisión SAT_SERVICE)",
}
var flagVerbose = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Log de depuración en stderr",
}

var fielFlags = []cli.Flag{flagCer, flagKey, flagP12, flagPassword, flagRFC, flagService, flagVerbose}

func main() {
	app := &cli.App{
		Name:  "descarga",
		Usage: "Cliente de la Descarga Masiva de CFDI del SAT",
		Commands: []*cli.Command{
			{
				Name:   "autentica",
				Usage:  "Obtiene un token de sesión",
				Flags:  fielFlags,
				Action: autentica,
			},
			{
				Name:  "solicita",
				Usage: "Envía una solicitud de descarga",
				Flags: append([]cli.Flag{
					flagToken,
					&cli.StringFlag{Name: "tipo", Value: "recibidos", Usage: "recibidos | emitidos | folio"},
					&cli.StringFlag{Name: "desde", Usage: "Fecha inicial (2006-01-02 o 2006-01-02T15:04:05)"},
					&cli.StringFlag{Name: "hasta", Usage: "Fecha final (2006-01-02 o 2006-01-02T15:04:05)"},
					&cli.StringFlag{Name: "tipo-solicitud", Value: "CFDI", Usage: "CFDI | Metadata"},
					&cli.StringFlag{Name: "rfc-emisor"},
					&cli.StringFlag{Name: "rfc-receptor"},
					&cli.StringFlag{Name: "tipo-comprobante", Usage: "I, E, T, N, P"},
					&cli.StringFlag{Name: "estado", Usage: "0 cancelado, 1 vigente"},
					&cli.StringFlag{Name: "rfc-terceros"},
					&cli.StringFlag{Name: "complemento"},
					&cli.StringFlag{Name: "folio", Usage: "UUID, con --tipo folio"},
				}, fielFlags...),
				Action: solicita,
			},
			{
				Name:  "verifica",
				Usage: "Consulta el estado de una solicitud",
				Flags: append([]cli.Flag{
					flagToken,
					&cli.StringFlag{Name: "id", Required: true, Usage: "IdSolicitud"},
				}, fielFlags...),
				Action: verifica,
			},
			{
				Name:  "paquete",
				Usage: "Descarga un paquete y lo guarda como <IdPaquete>.zip",
				Flags: append([]cli.Flag{
					flagToken,
					&cli.StringFlag{Name: "id", Required: true, Usage: "IdPaquete"},
					&cli.StringFlag{Name: "salida", Value: ".", Usage: "Directorio de salida"},
				}, fielFlags...),
				Action: paquete,
			},
			{
				Name:  "token",
				Usage: "Genera un JWT para la API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
					&cli.StringFlag{Name: "company", Required: true},
					&cli.IntFlag{Name: "minutos", Usage: "Vigencia (por omisión JWT_EXPIRATION_MINUTES)"},
				},
				Action: token,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if e, ok := domainsat.AsError(err); ok && e.Ambiguous {
			fmt.Fprintln(os.Stderr, "la petición pudo haber llegado al SAT: verifique antes de repetirla")
		}
		os.Exit(1)
	}
}

// ── Comandos ──────────────────────────────────────────────────────────────────

func autentica(cCtx *cli.Context) error {
	client, cred, err := setup(cCtx)
	if err != nil {
		return err
	}
	tok, err := client.Authenticate(cCtx.Context, cred)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"token": tok.Value, "expiresAt": tok.ExpiresAt})
}

func solicita(cCtx *cli.Context) error {
	client, cred, err := setup(cCtx)
	if err != nil {
		return err
	}
	kind := domainsat.RequestKind(strings.ToLower(cCtx.String("tipo")))
	if !kind.Valid() {
		return fmt.Errorf("--tipo %q desconocido (usar recibidos, emitidos o folio)", cCtx.String("tipo"))
	}
	start, err := parseDate(cCtx.String("desde"), false)
	if err != nil {
		return fmt.Errorf("--desde: %w", err)
	}
	end, err := parseDate(cCtx.String("hasta"), true)
	if err != nil {
		return fmt.Errorf("--hasta: %w", err)
	}
	f := domainsat.DownloadFilter{
		Kind:           kind,
		Start:          start,
		End:            end,
		RequesterRFC:   cred.RFC,
		IssuerRFC:      cCtx.String("rfc-emisor"),
		ReceiverRFC:    cCtx.String("rfc-receptor"),
		RequestType:    cCtx.String("tipo-solicitud"),
		DocumentType:   cCtx.String("tipo-comprobante"),
		DocumentStatus: cCtx.String("estado"),
		ThirdPartyRFC:  cCtx.String("rfc-terceros"),
		Complement:     cCtx.String("complemento"),
		Folio:          cCtx.String("folio"),
	}
	switch {
	case kind == domainsat.RequestReceived && f.ReceiverRFC == "":
		f.ReceiverRFC = cred.RFC
	case kind == domainsat.RequestIssued && f.IssuerRFC == "":
		f.IssuerRFC = cred.RFC
	}

	tok, err := sessionToken(cCtx, client, cred)
	if err != nil {
		return err
	}
	id, err := client.RequestDownload(cCtx.Context, tok, cred, kind, f.Attributes())
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"idSolicitud": id, "token": tok.Value})
}

func verifica(cCtx *cli.Context) error {
	client, cred, err := setup(cCtx)
	if err != nil {
		return err
	}
	tok, err := sessionToken(cCtx, client, cred)
	if err != nil {
		return err
	}
	st, err := client.VerifyStatus(cCtx.Context, tok, cred, cCtx.String("id"))
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"estadoSolicitud":       int(st.State),
		"estado":                st.State.String(),
		"codEstatus":            st.StatusCode,
		"codigoEstadoSolicitud": st.RequestStatusCode,
		"numeroCFDIs":           st.NumberOfItems,
		"mensaje":               st.StatusMessage,
		"idsPaquetes":           st.PackageIDs,
	})
}

func paquete(cCtx *cli.Context) error {
	client, cred, err := setup(cCtx)
	if err != nil {
		return err
	}
	tok, err := sessionToken(cCtx, client, cred)
	if err != nil {
		return err
	}
	pkg, err := client.RetrievePackage(cCtx.Context, tok, cred, cCtx.String("id"))
	if err != nil {
		return err
	}
	dir := cCtx.String("salida")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, filepath.Base(pkg.ID)+".zip")
	if err := os.WriteFile(path, pkg.Content, 0o600); err != nil {
		return err
	}
	entries, err := infrasat.NewPackageReader().Entries(pkg.Content)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"idPaquete": pkg.ID, "archivo": path, "bytes": len(pkg.Content), "entradas": len(entries)})
}

func token(cCtx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	minutes := cCtx.Int("minutos")
	if minutes <= 0 {
		minutes = cfg.JWT.Expiration
	}
	tok, err := jwt.Generate(cfg.JWT.Secret, cCtx.String("user"), cCtx.String("company"), cfg.JWT.Issuer, minutes)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// ── Soporte ───────────────────────────────────────────────────────────────────

func setup(cCtx *cli.Context) (*infrasat.ProtocolClient, domainsat.Credential, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, domainsat.Credential{}, err
	}
	if s := cCtx.String(flagService.Name); s != "" {
		cfg.SAT.Service = strings.ToLower(s)
	}
	level := "warn"
	if cCtx.Bool(flagVerbose.Name) {
		level = "debug"
	}
	log := logger.New(logger.Config{Env: "development", Level: level, Output: os.Stderr})

	client, err := infrasat.NewProtocolClientFromConfig(cfg.SAT, nil, log)
	if err != nil {
		return nil, domainsat.Credential{}, err
	}
	cred, err := loadCredential(
		cCtx.String(flagCer.Name), cCtx.String(flagKey.Name), cCtx.String(flagP12.Name),
		cCtx.String(flagPassword.Name), cCtx.String(flagRFC.Name),
	)
	if err != nil {
		return nil, domainsat.Credential{}, err
	}
	return client, cred, nil
}

// loadCredential lee la FIEL de .cer/.key o de un .p12.
func loadCredential(cerPath, keyPath, p12Path, password, rfc string) (domainsat.Credential, error) {
	if password == "" {
		return domainsat.Credential{}, fmt.Errorf("falta --password")
	}
	if p12Path != "" {
		data, err := os.ReadFile(p12Path)
		if err != nil {
			return domainsat.Credential{}, err
		}
		return infrasat.NewCredentialProcessor().LoadFromP12(data, password, rfc)
	}
	if cerPath == "" || keyPath == "" {
		return domainsat.Credential{}, fmt.Errorf("se requiere --cer y --key, o --p12")
	}
	cer, err := os.ReadFile(cerPath)
	if err != nil {
		return domainsat.Credential{}, err
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return domainsat.Credential{}, err
	}
	cred := domainsat.Credential{Certificate: cer, PrivateKey: key, Passphrase: password, RFC: rfc}
	if cred.RFC == "" {
		if parsed, err := infrasat.NewCredentialProcessor().ParseCertificate(cer); err == nil {
			cred.RFC = parsed.RFC
		}
	}
	return cred, nil
}

func sessionToken(cCtx *cli.Context, client *infrasat.ProtocolClient, cred domainsat.Credential) (*domainsat.SessionToken, error) {
	if v := strings.TrimSpace(cCtx.String(flagToken.Name)); v != "" {
		tok := domainsat.NewSessionToken(v, time.Now())
		return &tok, nil
	}
	return client.Authenticate(cCtx.Context, cred)
}

// parseDate acepta fecha sola o fecha y hora, en hora local. Una fecha sola como
// límite final cubre el día completo.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", v, time.Local); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("fecha %q inválida", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
