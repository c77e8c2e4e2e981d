package sat

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

func issuedFilter() map[string]string {
	return domainsat.DownloadFilter{
		Kind:         domainsat.RequestIssued,
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
		RequesterRFC: testRFC,
		IssuerRFC:    testRFC,
	}.Attributes()
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type harness struct {
	fake    *fakeSAT
	client  *ProtocolClient
	session *SessionClient
	cred    domainsat.Credential
	metrics *Metrics
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	f := loadFiel(t)
	fake, srv := newFakeSAT(t, f.x509)
	metrics := NewMetrics(prometheus.NewRegistry())
	client := NewProtocolClient(endpointsFor(srv), ProtocolOptions{
		Transport: NewSOAPClient(timeout, 0),
		Metrics:   metrics,
	})
	return &harness{fake: fake, client: client, session: NewSessionClient(client), cred: f.credential(), metrics: metrics}
}

func TestSession_FlujoCompletoContraServidorSimulado(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	pkgBytes := buildZip(t, map[string]string{"5F7A3B2C-0000-4000-8000-000000000001.xml": "<cfdi:Comprobante/>"})

	h.fake.on(pkgsat.ActionAuthenticate, authOK("T"))
	h.fake.on(pkgsat.ActionRequestIssued, requestReply("SolicitaDescargaEmitidos", "R", "5000", "Solicitud Aceptada"))
	h.fake.on(pkgsat.ActionVerify, verifyReply("2", "0"))
	h.fake.on(pkgsat.ActionVerify, verifyReply("3", "1", "P1"))
	h.fake.on(pkgsat.ActionDownload, downloadReply("5000", base64.StdEncoding.EncodeToString(pkgBytes)))

	s := domainsat.NewSession()
	s, err := h.session.Authenticate(ctx, s, h.cred)
	require.NoError(t, err)
	assert.Equal(t, domainsat.StateAuthenticated, s.State)
	assert.Equal(t, "T", s.Token.Value)
	assert.Equal(t, domainsat.TokenLifetime, s.Token.ExpiresAt.Sub(s.Token.IssuedAt))

	s, err = h.session.RequestDownload(ctx, s, h.cred, domainsat.RequestIssued, issuedFilter())
	require.NoError(t, err)
	assert.Equal(t, domainsat.StateDownloadRequested, s.State)
	assert.Equal(t, "R", s.RequestID)

	reqCalls := h.fake.callsTo(pkgsat.ActionRequestIssued)
	require.Len(t, reqCalls, 1)
	assert.Equal(t, `WRAP access_token="T"`, reqCalls[0].auth)
	assert.Contains(t, reqCalls[0].body, `<des:solicitud FechaFinal="2024-01-31T23:59:59" FechaInicial="2024-01-01T00:00:00" RfcEmisor="AAA010101AAA" RfcSolicitante="AAA010101AAA" TipoSolicitud="CFDI">`)
	assert.Empty(t, h.fake.callsTo(pkgsat.ActionAuthenticate)[0].auth, "Autentica no lleva token")

	s, st, err := h.session.Verify(ctx, s, h.cred)
	require.NoError(t, err)
	assert.Equal(t, domainsat.StatePolling, s.State)
	assert.Equal(t, domainsat.RequestStateInProgress, st.State)
	assert.Equal(t, 1, s.Polls)

	s, st, err = h.session.Verify(ctx, s, h.cred)
	require.NoError(t, err)
	assert.Equal(t, domainsat.StatePackageReady, s.State)
	assert.Equal(t, []string{"P1"}, st.PackageIDs)
	assert.Equal(t, []string{"P1"}, s.PackageIDs)
	assert.Equal(t, 2, s.Polls)

	s, pkg, err := h.session.Retrieve(ctx, s, h.cred, "P1")
	require.NoError(t, err)
	assert.Equal(t, domainsat.StatePackageReady, s.State, "descargar no cambia el estado")
	assert.Equal(t, "P1", pkg.ID)
	assert.Equal(t, pkgBytes, pkg.Content)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.requests.WithLabelValues("verificacion", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.requests.WithLabelValues("descarga", "ok")))
}

func TestSession_TerminadaSinPaquetes(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.fake.on(pkgsat.ActionAuthenticate, authOK("T"))
	h.fake.on(pkgsat.ActionRequestReceived, requestReply("SolicitaDescargaRecibidos", "R", "5000", "Solicitud Aceptada"))
	h.fake.on(pkgsat.ActionVerify, verifyReply("3", "0"))

	s, err := h.session.Authenticate(ctx, domainsat.NewSession(), h.cred)
	require.NoError(t, err)
	attrs := issuedFilter()
	delete(attrs, pkgsat.AttrRfcEmisor)
	attrs[pkgsat.AttrRfcReceptor] = testRFC
	s, err = h.session.RequestDownload(ctx, s, h.cred, domainsat.RequestReceived, attrs)
	require.NoError(t, err)

	next, st, err := h.session.Verify(ctx, s, h.cred)
	require.Error(t, err)
	assert.Nil(t, st)
	assert.True(t, errors.Is(err, domainsat.ErrMalformedResponse))
	e, ok := domainsat.AsError(err)
	require.True(t, ok)
	assert.Contains(t, string(e.Body), "VerificaSolicitudDescargaResult", "la respuesta cruda acompaña al error")
	assert.Equal(t, s, next, "sin transición")
	assert.Equal(t, domainsat.StateDownloadRequested, next.State)
}

func TestSession_VencidaYRechazada(t *testing.T) {
	for _, tc := range []struct {
		state string
		want  domainsat.SessionState
		err   error
	}{
		{"6", domainsat.StateRequestExpired, domainsat.ErrRequestExpired},
		{"5", domainsat.StateRequestRejected, domainsat.ErrRequestRejected},
		{"4", domainsat.StateRequestRejected, domainsat.ErrRequestRejected},
	} {
		t.Run(tc.state, func(t *testing.T) {
			h := newHarness(t, 0)
			ctx := context.Background()
			h.fake.on(pkgsat.ActionAuthenticate, authOK("T"))
			h.fake.on(pkgsat.ActionRequestIssued, requestReply("SolicitaDescargaEmitidos", "R", "5000", "Solicitud Aceptada"))
			h.fake.on(pkgsat.ActionVerify, verifyReply(tc.state, "0"))

			s, err := h.session.Authenticate(ctx, domainsat.NewSession(), h.cred)
			require.NoError(t, err)
			s, err = h.session.RequestDownload(ctx, s, h.cred, domainsat.RequestIssued, issuedFilter())
			require.NoError(t, err)

			s, _, err = h.session.Verify(ctx, s, h.cred)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.err))
			assert.Equal(t, tc.want, s.State)

			_, _, err = h.session.Verify(ctx, s, h.cred)
			assert.True(t, errors.Is(err, domainsat.ErrInvalidTransition), "estado terminal")
		})
	}
}

func TestSession_TimeoutNoCambiaSesion(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	ctx := context.Background()
	h.fake.on(pkgsat.ActionAuthenticate, authOK("T"))
	h.fake.stall[pkgsat.ActionRequestIssued] = true

	s, err := h.session.Authenticate(ctx, domainsat.NewSession(), h.cred)
	require.NoError(t, err)

	next, err := h.session.RequestDownload(ctx, s, h.cred, domainsat.RequestIssued, issuedFilter())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainsat.ErrNetworkTimeout))
	assert.True(t, domainsat.IsAmbiguous(err), "la petición ya se había enviado")
	assert.Equal(t, s, next)
	assert.Equal(t, domainsat.StateAuthenticated, next.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.requests.WithLabelValues("solicitud", "timeout")))
}

func TestSession_AutenticacionRechazada(t *testing.T) {
	h := newHarness(t, 0)
	h.fake.onReply(pkgsat.ActionAuthenticate, satReply{status: http.StatusInternalServerError, body: authFault})

	s, err := h.session.Authenticate(context.Background(), domainsat.NewSession(), h.cred)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainsat.ErrAuthenticationRejected))
	assert.Equal(t, domainsat.StateUnauthenticated, s.State)

	e, ok := domainsat.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "a:InvalidSecurity", e.StatusCode)
	assert.Equal(t, "An error occurred when verifying security for the message.", e.Message)
}

func TestSession_AutenticacionSinToken(t *testing.T) {
	h := newHarness(t, 0)
	h.fake.onReply(pkgsat.ActionAuthenticate, satReply{status: http.StatusOK, body: authOK("  ")})

	s, err := h.session.Authenticate(context.Background(), domainsat.NewSession(), h.cred)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainsat.ErrAuthenticationRejected))
	assert.Equal(t, domainsat.StateUnauthenticated, s.State)

	e, ok := domainsat.AsError(err)
	require.True(t, ok)
	assert.Contains(t, string(e.Body), "<AutenticaResult>")
}

func TestSession_SolicitudRechazada(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	msg := "Se agotó las solicitudes de por vida: Máximo para solicitudes con los mismos parámetros"
	latin1, err := charmap.ISO8859_1.NewEncoder().String(requestReply("SolicitaDescargaEmitidos", "", "5002", msg))
	require.NoError(t, err)

	h.fake.on(pkgsat.ActionAuthenticate, authOK("T"))
	h.fake.onReply(pkgsat.ActionRequestIssued, satReply{status: http.StatusOK, contentType: "text/xml; charset=ISO-8859-1", body: latin1})

	s, err := h.session.Authenticate(ctx, domainsat.NewSession(), h.cred)
	require.NoError(t, err)
	next, err := h.session.RequestDownload(ctx, s, h.cred, domainsat.RequestIssued, issuedFilter())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainsat.ErrDownloadRequestRejected))
	assert.False(t, domainsat.IsAmbiguous(err))
	assert.Equal(t, domainsat.StateAuthenticated, next.State)

	e, _ := domainsat.AsError(err)
	assert.Equal(t, "5002", e.StatusCode)
	assert.Equal(t, msg, e.Message, "el mensaje se decodifica de ISO-8859-1")
}

func TestSession_DescargaDePaqueteDesconocido(t *testing.T) {
	h := newHarness(t, 0)
	s := domainsat.NewSession().WithToken(domainsat.NewSessionToken("T", time.Now()))
	s, err := s.WithRequest("R")
	require.NoError(t, err)
	s = s.WithStatus(domainsat.VerificationStatus{State: domainsat.RequestStateFinished, PackageIDs: []string{"P1"}}, domainsat.StatePackageReady)

	_, _, err = h.session.Retrieve(context.Background(), s, h.cred, "P9")
	assert.True(t, errors.Is(err, domainsat.ErrInvalidTransition))
	assert.Empty(t, h.fake.callsTo(pkgsat.ActionDownload), "no se contacta al SAT")
}

func TestProtocol_TokenVencido(t *testing.T) {
	h := newHarness(t, 0)
	old := domainsat.NewSessionToken("T", time.Now().Add(-10*time.Minute))

	_, err := h.client.RequestDownload(context.Background(), &old, h.cred, domainsat.RequestIssued, issuedFilter())
	assert.True(t, errors.Is(err, domainsat.ErrTokenExpired))
	_, err = h.client.VerifyStatus(context.Background(), nil, h.cred, "R")
	assert.True(t, errors.Is(err, domainsat.ErrTokenExpired))
	assert.Empty(t, h.fake.callsTo(pkgsat.ActionRequestIssued))
}

func TestProtocol_DescargaConCodigoDeError(t *testing.T) {
	h := newHarness(t, 0)
	h.fake.on(pkgsat.ActionDownload, downloadReply("5008", ""))
	token := domainsat.NewSessionToken("T", time.Now())

	_, err := h.client.RetrievePackage(context.Background(), &token, h.cred, "P1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainsat.ErrRemoteFault))
	e, _ := domainsat.AsError(err)
	assert.Equal(t, "5008", e.StatusCode)
}

func TestProtocol_RespuestaNoXML(t *testing.T) {
	h := newHarness(t, 0)
	h.fake.on(pkgsat.ActionVerify, "<html>mantenimiento</html")
	token := domainsat.NewSessionToken("T", time.Now())

	_, err := h.client.VerifyStatus(context.Background(), &token, h.cred, "R")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainsat.ErrMalformedResponse))
	e, _ := domainsat.AsError(err)
	assert.Equal(t, "<html>mantenimiento</html", string(e.Body))
}

func TestProtocol_CredencialInvalidaNoContactaAlSAT(t *testing.T) {
	h := newHarness(t, 0)
	cred := h.cred
	cred.Passphrase = "incorrecta"

	_, err := h.client.Authenticate(context.Background(), cred)
	assert.True(t, errors.Is(err, domainsat.ErrInvalidPassphrase))
	assert.Empty(t, h.fake.callsTo(pkgsat.ActionAuthenticate))
}

func TestElideCertificate(t *testing.T) {
	in := `<o:BinarySecurityToken u:Id="x">MIIB</o:BinarySecurityToken><X509Certificate>MIIC</X509Certificate>`
	out := elideCertificate(in)
	assert.NotContains(t, out, "MIIB")
	assert.NotContains(t, out, "MIIC")
	assert.Contains(t, out, `<o:BinarySecurityToken u:Id="x">…</o:BinarySecurityToken>`)
}
