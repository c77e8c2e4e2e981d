package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

type testIdentity struct {
	priv   *rsa.PrivateKey
	x509   *x509.Certificate
	parsed *domainsat.ParsedCertificate
}

var (
	identityOnce sync.Once
	identity     testIdentity
	identityErr  error
)

// loadIdentity genera una sola vez llave y certificado autofirmado para el paquete.
func loadIdentity(t *testing.T) testIdentity {
	t.Helper()
	identityOnce.Do(func() {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			identityErr = err
			return
		}
		serial, _ := new(big.Int).SetString("300010000000000012345", 10)
		tmpl := &x509.Certificate{
			SerialNumber: serial,
			Subject:      pkix.Name{CommonName: "CONTRIBUYENTE DE PRUEBA", Organization: []string{"SAT"}},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
		if err != nil {
			identityErr = err
			return
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			identityErr = err
			return
		}
		identity = testIdentity{
			priv: priv,
			x509: cert,
			parsed: &domainsat.ParsedCertificate{
				Raw:          der,
				RawBase64:    base64.StdEncoding.EncodeToString(der),
				SerialNumber: cert.SerialNumber.String(),
				IssuerName:   "CN=CONTRIBUYENTE DE PRUEBA,O=SAT",
				NotBefore:    cert.NotBefore,
				NotAfter:     cert.NotAfter,
			},
		}
	})
	require.NoError(t, identityErr, "no se pudo generar la identidad de prueba")
	return identity
}

// signingKey copia de la llave para que Destroy no afecte a otros tests.
func (id testIdentity) signingKey() *domainsat.SigningKey {
	cp := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: new(big.Int).Set(id.priv.N), E: id.priv.E},
		D:         new(big.Int).Set(id.priv.D),
		Primes:    []*big.Int{new(big.Int).Set(id.priv.Primes[0]), new(big.Int).Set(id.priv.Primes[1])},
	}
	cp.Precompute()
	return domainsat.NewSigningKey(cp)
}
