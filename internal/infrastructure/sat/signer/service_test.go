package signer

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

const (
	nsU = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	nsO = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"

	authEnvelope = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" xmlns:u="` + nsU + `">` +
		`<s:Header><o:Security xmlns:o="` + nsO + `" s:mustUnderstand="1">` +
		`<u:Timestamp u:Id="_0"><u:Created>2024-01-01T00:00:00Z</u:Created><u:Expires>2024-01-01T00:05:00Z</u:Expires></u:Timestamp>` +
		`<o:BinarySecurityToken u:Id="uuid-abc-1">CERT</o:BinarySecurityToken>` +
		`</o:Security></s:Header>` +
		`<s:Body><Autentica xmlns="http://DescargaMasivaTerceros.gob.mx"/></s:Body></s:Envelope>`

	// Forma canónica (exc-c14n) del u:Timestamp de authEnvelope, calculada a mano.
	canonicalTimestamp = `<u:Timestamp xmlns:u="` + nsU + `" u:Id="_0">` +
		`<u:Created>2024-01-01T00:00:00Z</u:Created><u:Expires>2024-01-01T00:05:00Z</u:Expires></u:Timestamp>`

	requestEnvelope = `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" xmlns:des="http://DescargaMasivaTerceros.sat.gob.mx">` +
		`<s:Header/><s:Body><des:SolicitaDescargaRecibidos>` +
		`<des:solicitud FechaFinal="2024-01-31T23:59:59" FechaInicial="2024-01-01T00:00:00" RfcReceptor="AAA010101AAA" RfcSolicitante="AAA010101AAA" TipoSolicitud="CFDI"></des:solicitud>` +
		`</des:SolicitaDescargaRecibidos></s:Body></s:Envelope>`

	canonicalSolicitud = `<des:solicitud xmlns:des="http://DescargaMasivaTerceros.sat.gob.mx" FechaFinal="2024-01-31T23:59:59" FechaInicial="2024-01-01T00:00:00" RfcReceptor="AAA010101AAA" RfcSolicitante="AAA010101AAA" TipoSolicitud="CFDI"></des:solicitud>`
)

func parseDoc(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	return doc
}

func sha1B64(s string) string {
	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ── Autenticación ─────────────────────────────────────────────────────────────

func TestSign_Autenticacion_DigestReproducible(t *testing.T) {
	id := loadIdentity(t)
	svc := NewSignatureService(ProfileSHA1)
	doc := parseDoc(t, authEnvelope)

	signed, err := svc.Sign(doc, AuthenticationStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)

	assert.Equal(t, "#_0", signed.ReferenceURI)
	assert.Equal(t, sha1B64(canonicalTimestamp), signed.DigestValue,
		"una canonicalización independiente del Timestamp debe reproducir el DigestValue")

	security := signed.Document.FindElement("//Security")
	require.NotNil(t, security)
	sig := security.SelectElement("Signature")
	require.NotNil(t, sig, "la firma debe quedar como hija de o:Security")
	assert.Equal(t, NamespaceDS, sig.SelectAttrValue("xmlns", ""))

	ref := sig.FindElement("./KeyInfo/SecurityTokenReference/Reference")
	require.NotNil(t, ref)
	assert.Equal(t, "#uuid-abc-1", ref.SelectAttrValue("URI", ""))
	assert.Equal(t, ValueTypeX509v3, ref.SelectAttrValue("ValueType", ""))

	transforms := sig.FindElements("./SignedInfo/Reference/Transforms/Transform")
	require.Len(t, transforms, 1, "sin firma envuelta sólo se declara exc-c14n")
	assert.Equal(t, AlgExcC14N, transforms[0].SelectAttrValue("Algorithm", ""))

	out, err := signed.Bytes()
	require.NoError(t, err)
	require.NoError(t, Verify(out, id.x509))
}

func TestSign_NoModificaDocumentoOriginal(t *testing.T) {
	id := loadIdentity(t)
	doc := parseDoc(t, authEnvelope)
	before, err := doc.WriteToString()
	require.NoError(t, err)

	_, err = NewSignatureService(ProfileSHA1).Sign(doc, AuthenticationStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)

	after, err := doc.WriteToString()
	require.NoError(t, err)
	assert.Equal(t, before, after, "Sign trabaja sobre una copia")
}

// ── Firma envuelta ────────────────────────────────────────────────────────────

func TestSign_Solicitud_Envuelta(t *testing.T) {
	id := loadIdentity(t)
	signed, err := NewSignatureService(ProfileSHA1).Sign(parseDoc(t, requestEnvelope), RequestStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)

	assert.Equal(t, "", signed.ReferenceURI)
	assert.Equal(t, sha1B64(canonicalSolicitud), signed.DigestValue)

	solicitud := signed.Document.FindElement("//solicitud")
	sig := solicitud.SelectElement("Signature")
	require.NotNil(t, sig, "la firma debe quedar dentro de des:solicitud")

	transforms := sig.FindElements("./SignedInfo/Reference/Transforms/Transform")
	require.Len(t, transforms, 2)
	assert.Equal(t, TransformEnveloped, transforms[0].SelectAttrValue("Algorithm", ""))

	assert.Equal(t, id.parsed.IssuerName, sig.FindElement("./KeyInfo/X509Data/X509IssuerSerial/X509IssuerName").Text())
	assert.Equal(t, "300010000000000012345", sig.FindElement("./KeyInfo/X509Data/X509IssuerSerial/X509SerialNumber").Text())
	assert.Equal(t, id.parsed.RawBase64, sig.FindElement("./KeyInfo/X509Data/X509Certificate").Text())

	out, err := signed.Bytes()
	require.NoError(t, err)
	require.NoError(t, Verify(out, id.x509))
}

func TestSign_Paquete_SoloCertificado(t *testing.T) {
	id := loadIdentity(t)
	doc := parseDoc(t, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" xmlns:des="http://DescargaMasivaTerceros.sat.gob.mx"><s:Header/><s:Body>`+
		`<des:PeticionDescargaMasivaTercerosEntrada><des:peticionDescarga IdPaquete="P1" RfcSolicitante="AAA010101AAA"/></des:PeticionDescargaMasivaTercerosEntrada></s:Body></s:Envelope>`)

	signed, err := NewSignatureService(ProfileSHA1).Sign(doc, PackageStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)

	sig := signed.Document.FindElement("//peticionDescarga/Signature")
	require.NotNil(t, sig)
	assert.Nil(t, sig.FindElement(".//X509IssuerSerial"))
	assert.NotNil(t, sig.FindElement("./KeyInfo/X509Data/X509Certificate"))

	out, err := signed.Bytes()
	require.NoError(t, err)
	require.NoError(t, Verify(out, id.x509))
}

func TestSign_Determinista(t *testing.T) {
	id := loadIdentity(t)
	svc := NewSignatureService(ProfileSHA1)

	a, err := svc.Sign(parseDoc(t, requestEnvelope), RequestStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)
	b, err := svc.Sign(parseDoc(t, requestEnvelope), RequestStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)

	assert.Equal(t, a.DigestValue, b.DigestValue)
	assert.Equal(t, a.SignatureValue, b.SignatureValue, "RSA PKCS#1 v1.5 es determinista")
}

func TestVerify_DetectaAlteracion(t *testing.T) {
	id := loadIdentity(t)
	signed, err := NewSignatureService(ProfileSHA1).Sign(parseDoc(t, requestEnvelope), RequestStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)

	signed.Document.FindElement("//solicitud").CreateAttr("RfcReceptor", "BBB010101BBB")
	out, err := signed.Bytes()
	require.NoError(t, err)

	err = Verify(out, id.x509)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSignatureInvalid))
	assert.Contains(t, err.Error(), "digest")
}

func TestVerify_SignatureValueAlterado(t *testing.T) {
	id := loadIdentity(t)
	signed, err := NewSignatureService(ProfileSHA1).Sign(parseDoc(t, requestEnvelope), RequestStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)

	out, err := signed.Bytes()
	require.NoError(t, err)
	tampered := strings.Replace(string(out), signed.SignatureValue, base64.StdEncoding.EncodeToString(make([]byte, 256)), 1)
	assert.ErrorIs(t, Verify([]byte(tampered), id.x509), ErrSignatureInvalid)
}

func TestSign_PerfilSHA256(t *testing.T) {
	id := loadIdentity(t)
	signed, err := NewSignatureService(ProfileSHA256).Sign(parseDoc(t, requestEnvelope), VerificationStrategy, id.signingKey(), id.parsed)
	require.NoError(t, err)

	method := signed.Document.FindElement("//SignatureMethod")
	assert.Equal(t, AlgRSASHA256, method.SelectAttrValue("Algorithm", ""))
	out, err := signed.Bytes()
	require.NoError(t, err)
	require.NoError(t, Verify(out, id.x509))
}

func TestSign_ObjetivoPorID(t *testing.T) {
	id := loadIdentity(t)
	st := Strategy{name: "prueba", target: ByID("_0"), insert: AppendTo("Security"), keyInfo: CertificateOnly{}}

	signed, err := NewSignatureService(ProfileSHA1).Sign(parseDoc(t, authEnvelope), st, id.signingKey(), id.parsed)
	require.NoError(t, err)
	assert.Equal(t, "#_0", signed.ReferenceURI)
	assert.Equal(t, sha1B64(canonicalTimestamp), signed.DigestValue)
}

// ── Errores ───────────────────────────────────────────────────────────────────

func TestSign_Errores(t *testing.T) {
	id := loadIdentity(t)
	svc := NewSignatureService(ProfileSHA1)

	duplicated := `<r xmlns:des="x"><des:solicitud/><des:solicitud/></r>`
	destroyed := id.signingKey()
	destroyed.Destroy()

	cases := []struct {
		name string
		doc  *etree.Document
		st   Strategy
		key  *domainsat.SigningKey
	}{
		{"objetivo inexistente", parseDoc(t, `<r/>`), RequestStrategy, id.signingKey()},
		{"objetivo duplicado", parseDoc(t, duplicated), RequestStrategy, id.signingKey()},
		{"llave destruida", parseDoc(t, requestEnvelope), RequestStrategy, destroyed},
		{"sin BinarySecurityToken", parseDoc(t, `<r xmlns:u="`+nsU+`"><Security/><u:Timestamp u:Id="_0"/></r>`), AuthenticationStrategy, id.signingKey()},
		{"documento vacío", etree.NewDocument(), RequestStrategy, id.signingKey()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signed, err := svc.Sign(tc.doc, tc.st, tc.key, id.parsed)
			require.Error(t, err)
			assert.Nil(t, signed, "nunca se devuelve un documento parcialmente firmado")
			assert.True(t, errors.Is(err, domainsat.ErrSignatureComputationFailed))
		})
	}
}

func TestProfileByName(t *testing.T) {
	p, err := ProfileByName("")
	require.NoError(t, err)
	assert.Equal(t, ProfileSHA1, p)

	p, err = ProfileByName("SHA256")
	require.NoError(t, err)
	assert.Equal(t, ProfileSHA256, p)

	_, err = ProfileByName("md5")
	assert.Error(t, err)
}

func TestStrategies_ConjuntoCerrado(t *testing.T) {
	names := map[string]string{}
	for _, st := range Strategies() {
		names[st.Name()] = st.KeyInfo().Name()
	}
	assert.Equal(t, map[string]string{
		"autenticacion": "SecurityTokenReference",
		"solicitud":     "IssuerSerial",
		"verificacion":  "IssuerSerial",
		"descarga":      "CertificateOnly",
	}, names)
	assert.False(t, AuthenticationStrategy.Insertion().Enveloped())
	assert.True(t, RequestStrategy.Insertion().Enveloped())
}
