package sat

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

const (
	testRFC        = "AAA010101AAA"
	testPassphrase = "12345678a"
	testSerial     = "30001000000500003416"
	testIssuerName = "C=MX,O=Servicio de Administración Tributaria,OU=SAT-IES Authority,CN=AC UAT\\, PRUEBAS,emailAddress=oscar.martinez@sat.gob.mx,x500UniqueIdentifier=SAT970701NN3"
)

// fiel credencial de prueba: certificado DER y llave PKCS#8 cifrada.
type fiel struct {
	certDER []byte
	keyDER  []byte
	priv    *rsa.PrivateKey
	x509    *x509.Certificate
}

var (
	fielOnce sync.Once
	testFiel fiel
	fielErr  error
)

func loadFiel(t *testing.T) fiel {
	t.Helper()
	fielOnce.Do(func() {
		testFiel, fielErr = buildFiel()
	})
	require.NoError(t, fielErr, "no se pudo generar la FIEL de prueba")
	return testFiel
}

func buildFiel() (fiel, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fiel{}, err
	}
	serial, _ := new(big.Int).SetString(testSerial, 10)
	issuer := pkix.Name{
		Country:            []string{"MX"},
		Organization:       []string{"Servicio de Administración Tributaria"},
		OrganizationalUnit: []string{"SAT-IES Authority"},
		CommonName:         "AC UAT, PRUEBAS",
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}, Value: "oscar.martinez@sat.gob.mx"},
			{Type: asn1.ObjectIdentifier{2, 5, 4, 45}, Value: "SAT970701NN3"},
		},
	}
	subject := pkix.Name{
		CommonName: "EMPRESA DE PRUEBA SA DE CV",
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: asn1.ObjectIdentifier{2, 5, 4, 45}, Value: testRFC + " / HEGT7610034S2"},
		},
	}

	// Emisor (CA) y sujeto distintos: se firma con la misma llave para simplificar.
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               issuer,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(48 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, leafTmpl, caTmpl, &priv.PublicKey, priv)
	if err != nil {
		return fiel{}, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fiel{}, err
	}
	keyDER, err := marshalEncryptedKey(priv, testPassphrase)
	if err != nil {
		return fiel{}, err
	}
	return fiel{certDER: der, keyDER: keyDER, priv: priv, x509: cert}, nil
}

func marshalEncryptedKey(priv *rsa.PrivateKey, pass string) ([]byte, error) {
	return pkcs8.MarshalPrivateKey(priv, []byte(pass), &pkcs8.Opts{
		Cipher: pkcs8.AES256CBC,
		KDFOpts: pkcs8.PBKDF2Opts{
			SaltSize:       8,
			IterationCount: 1000,
			HMACHash:       crypto.SHA256,
		},
	})
}

func encryptKey(t *testing.T, priv *rsa.PrivateKey, pass string) []byte {
	t.Helper()
	der, err := marshalEncryptedKey(priv, pass)
	require.NoError(t, err)
	return der
}

func (f fiel) credential() domainsat.Credential {
	return domainsat.Credential{
		Certificate: f.certDER,
		PrivateKey:  f.keyDER,
		Passphrase:  testPassphrase,
		RFC:         testRFC,
	}
}
