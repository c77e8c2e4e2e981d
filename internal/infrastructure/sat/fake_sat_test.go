package sat

import (
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/sat-descarga-masiva/internal/infrastructure/sat/signer"
	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

// ── Respuestas de ejemplo ─────────────────────────────────────────────────────

const envelopeOpen = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" xmlns:u="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">`

func authOK(token string) string {
	return envelopeOpen +
		`<s:Header><o:Security s:mustUnderstand="1" xmlns:o="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">` +
		`<u:Timestamp u:Id="_0"><u:Created>2024-03-02T00:30:15.000Z</u:Created><u:Expires>2024-03-02T00:35:15.000Z</u:Expires></u:Timestamp>` +
		`</o:Security></s:Header><s:Body><AutenticaResponse xmlns="http://DescargaMasivaTerceros.gob.mx"><AutenticaResult>` + token +
		`</AutenticaResult></AutenticaResponse></s:Body></s:Envelope>`
}

const authFault = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>` +
	`<faultcode xmlns:a="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">a:InvalidSecurity</faultcode>` +
	`<faultstring xml:lang="en-US">An error occurred when verifying security for the message.</faultstring>` +
	`</s:Fault></s:Body></s:Envelope>`

func requestReply(op, id, code, msg string) string {
	return envelopeOpen + `<s:Body><` + op + `Response xmlns="http://DescargaMasivaTerceros.sat.gob.mx"><` + op +
		`Result IdSolicitud="` + id + `" RfcSolicitante="AAA010101AAA" CodEstatus="` + code + `" Mensaje="` + msg + `"/></` +
		op + `Response></s:Body></s:Envelope>`
}

func verifyReply(state, count string, packages ...string) string {
	var ids strings.Builder
	for _, p := range packages {
		ids.WriteString("<IdsPaquetes>" + p + "</IdsPaquetes>")
	}
	return envelopeOpen + `<s:Body><VerificaSolicitudDescargaResponse xmlns="http://DescargaMasivaTerceros.sat.gob.mx">` +
		`<VerificaSolicitudDescargaResult CodEstatus="5000" EstadoSolicitud="` + state + `" CodigoEstadoSolicitud="5000" NumeroCFDIs="` + count +
		`" Mensaje="Solicitud Aceptada">` + ids.String() + `</VerificaSolicitudDescargaResult></VerificaSolicitudDescargaResponse></s:Body></s:Envelope>`
}

func downloadReply(code, paquete string) string {
	return `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" xmlns:h="http://DescargaMasivaTerceros.sat.gob.mx">` +
		`<s:Header><h:respuesta CodEstatus="` + code + `" Mensaje="Solicitud Aceptada"/></s:Header>` +
		`<s:Body><RespuestaDescargaMasivaTercerosSalida xmlns="http://DescargaMasivaTerceros.sat.gob.mx"><Paquete>` + paquete +
		`</Paquete></RespuestaDescargaMasivaTercerosSalida></s:Body></s:Envelope>`
}

// ── Servidor falso ────────────────────────────────────────────────────────────

type satCall struct {
	action string
	auth   string
	body   string
}

type satReply struct {
	status      int
	contentType string
	body        string
}

// fakeSAT responde por SOAPAction con una cola de respuestas (la última se repite)
// y valida la firma de cada petición con el certificado de prueba.
type fakeSAT struct {
	t       *testing.T
	cert    *x509.Certificate
	mu      sync.Mutex
	calls   []satCall
	replies map[string][]satReply
	stall   map[string]bool
}

func newFakeSAT(t *testing.T, cert *x509.Certificate) (*fakeSAT, *httptest.Server) {
	f := &fakeSAT{t: t, cert: cert, replies: map[string][]satReply{}, stall: map[string]bool{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSAT) on(action string, body string) *fakeSAT {
	return f.onReply(action, satReply{status: http.StatusOK, body: body})
}

func (f *fakeSAT) onReply(action string, r satReply) *fakeSAT {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[action] = append(f.replies[action], r)
	return f
}

func (f *fakeSAT) callsTo(action string) []satCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []satCall
	for _, c := range f.calls {
		if c.action == action {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSAT) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	action := r.Header.Get("SOAPAction")

	f.mu.Lock()
	f.calls = append(f.calls, satCall{action: action, auth: r.Header.Get("Authorization"), body: string(body)})
	stall := f.stall[action]
	var reply *satReply
	if q := f.replies[action]; len(q) > 0 {
		reply = &q[0]
		if len(q) > 1 {
			f.replies[action] = q[1:]
		}
	}
	f.mu.Unlock()

	assert.Equal(f.t, "text/xml; charset=utf-8", r.Header.Get("Content-Type"))
	assert.NoError(f.t, signer.Verify(body, f.cert), "la firma de %s debe validar", action)

	if stall {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		return
	}
	if reply == nil {
		http.Error(w, "sin respuesta configurada", http.StatusNotImplemented)
		return
	}
	ct := reply.contentType
	if ct == "" {
		ct = "text/xml; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(reply.status)
	_, _ = io.WriteString(w, reply.body)
}

func endpointsFor(srv *httptest.Server) pkgsat.Endpoints {
	return pkgsat.Endpoints{
		Authenticate: srv.URL + "/Autenticacion/Autenticacion.svc",
		Request:      srv.URL + "/SolicitaDescargaService.svc",
		Verify:       srv.URL + "/VerificaSolicitudDescargaService.svc",
		Download:     srv.URL + "/DescargaMasivaService.svc",
	}
}
