package sat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httptrace"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding/charmap"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// ── Transporte SOAP ───────────────────────────────────────────────────────────

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxResponse = 64 << 20 // los paquetes llegan en Base64 dentro del sobre
)

// SOAPClient envía un sobre ya firmado y devuelve el cuerpo de la respuesta en UTF-8.
// Una sola petición POST por llamada, sin reintentos.
type SOAPClient struct {
	httpClient  *http.Client
	timeout     time.Duration
	maxResponse int64
}

// NewSOAPClient construye el transporte. timeout <= 0 usa 60 s; maxResponse <= 0 usa 64 MB.
func NewSOAPClient(timeout time.Duration, maxResponse int64) *SOAPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxResponse <= 0 {
		maxResponse = defaultMaxResponse
	}
	return &SOAPClient{
		httpClient:  &http.Client{Timeout: timeout},
		timeout:     timeout,
		maxResponse: maxResponse,
	}
}

// WithHTTPClient reemplaza el cliente HTTP (tests, proxies corporativos).
func (c *SOAPClient) WithHTTPClient(hc *http.Client) *SOAPClient {
	cp := *c
	cp.httpClient = hc
	return &cp
}

// soapCall una invocación a una operación del SAT.
type soapCall struct {
	op      string // autenticacion | solicitud | verificacion | descarga
	url     string
	action  string
	token   string // vacío en Autentica
	payload []byte
}

// soapReply respuesta cruda ya convertida a UTF-8.
type soapReply struct {
	status int
	body   []byte
}

// Post envía la petición. Un fallo después de escribir la petición se marca como
// ambiguo: el SAT pudo haberla procesado.
func (c *SOAPClient) Post(ctx context.Context, call soapCall) (*soapReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var written atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.url, bytes.NewReader(call.payload))
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrTransport, call.op, fmt.Errorf("soap: crear request: %w", err))
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("Accept", "text/xml")
	req.Header.Set("SOAPAction", call.action)
	if call.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf(`WRAP access_token="%s"`, call.token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, call.op, err, written.Load())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	if err != nil {
		return nil, transportError(ctx, call.op, err, true)
	}
	if int64(len(raw)) > c.maxResponse {
		return nil, &domainsat.Error{
			Kind:    domainsat.ErrMalformedResponse,
			Op:      call.op,
			Message: fmt.Sprintf("respuesta mayor a %d bytes", c.maxResponse),
			Body:    raw[:c.maxResponse],
		}
	}

	body, err := toUTF8(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &domainsat.Error{Kind: domainsat.ErrMalformedResponse, Op: call.op, Body: raw, Err: err}
	}
	return &soapReply{status: resp.StatusCode, body: body}, nil
}

func transportError(ctx context.Context, op string, err error, written bool) error {
	kind := domainsat.ErrTransport
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		kind = domainsat.ErrNetworkTimeout
	}
	return &domainsat.Error{Kind: kind, Op: op, Ambiguous: written, Err: err}
}

// ── Codificación ──────────────────────────────────────────────────────────────

var xmlEncodingDecl = regexp.MustCompile(`^<\?xml[^>]*encoding=["']([A-Za-z0-9._-]+)["']`)

// toUTF8 convierte respuestas declaradas en ISO-8859-1 (cabecera o declaración XML).
func toUTF8(body []byte, contentType string) ([]byte, error) {
	charset := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		charset = params["charset"]
	}
	if charset == "" {
		if m := xmlEncodingDecl.FindSubmatch(bytes.TrimSpace(body)); m != nil {
			charset = string(m[1])
		}
	}
	switch strings.ToLower(charset) {
	case "iso-8859-1", "latin1", "latin-1", "windows-1252":
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
		if err != nil {
			return nil, fmt.Errorf("soap: decodificar %s: %w", charset, err)
		}
		return stripEncodingDecl(out), nil
	default:
		return body, nil
	}
}

// stripEncodingDecl quita la declaración para que encoding/xml no pida un CharsetReader.
func stripEncodingDecl(body []byte) []byte {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return body
	}
	end := bytes.Index(trimmed, []byte("?>"))
	if end < 0 {
		return body
	}
	return trimmed[end+2:]
}
