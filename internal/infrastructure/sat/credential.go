package sat

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

// ── Nombres cortos de atributos del DN ────────────────────────────────────────

var oidShortNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.4":                    "SN",
	"2.5.4.5":                    "serialNumber",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.9":                    "street",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"2.5.4.12":                   "title",
	"2.5.4.17":                   "postalCode",
	"2.5.4.42":                   "GN",
	"2.5.4.45":                   "x500UniqueIdentifier",
	"1.2.840.113549.1.9.1":       "emailAddress",
	"1.2.840.113549.1.9.2":       "unstructuredName",
	"0.9.2342.19200300.100.1.25": "DC",
	"0.9.2342.19200300.100.1.1":  "UID",
}

var oidUniqueIdentifier = asn1.ObjectIdentifier{2, 5, 4, 45}

// CredentialProcessor descifra la llave y extrae los datos del certificado FIEL.
// No guarda estado.
type CredentialProcessor struct{}

// NewCredentialProcessor crea el procesador.
func NewCredentialProcessor() *CredentialProcessor {
	return &CredentialProcessor{}
}

// ParseCertificate acepta el .cer en DER, Base64 o PEM.
func (p *CredentialProcessor) ParseCertificate(data []byte) (*domainsat.ParsedCertificate, error) {
	der, err := decodeBinary(data, "CERTIFICATE")
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrCertificateMalformed, "certificado", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrCertificateMalformed, "certificado", err)
	}
	issuer, err := issuerName(cert)
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrCertificateMalformed, "certificado", err)
	}
	if cert.SerialNumber == nil {
		return nil, domainsat.NewError(domainsat.ErrCertificateMalformed, "certificado", fmt.Errorf("sin número de serie"))
	}
	return &domainsat.ParsedCertificate{
		Raw:          cert.Raw,
		RawBase64:    base64.StdEncoding.EncodeToString(cert.Raw),
		SerialNumber: cert.SerialNumber.String(),
		IssuerName:   issuer,
		RFC:          subjectRFC(cert.Subject),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
	}, nil
}

// DecryptPrivateKey descifra el .key (PKCS#8 cifrado en DER, Base64 o PEM; también PEM
// RSA heredado con Proc-Type). Cualquier fallo se reporta igual: contraseña incorrecta
// y archivo corrupto no se distinguen.
func (p *CredentialProcessor) DecryptPrivateKey(data []byte, passphrase string) (*domainsat.SigningKey, error) {
	key, err := decryptRSA(data, passphrase)
	if err != nil {
		// La causa de pkcs8/x509 no se expone: no debe filtrar detalles de la llave.
		return nil, domainsat.NewError(domainsat.ErrInvalidPassphrase, "llave privada", nil)
	}
	if err := key.Validate(); err != nil {
		return nil, domainsat.NewError(domainsat.ErrInvalidPassphrase, "llave privada", nil)
	}
	key.Precompute()
	return domainsat.NewSigningKey(key), nil
}

func decryptRSA(data []byte, passphrase string) (*rsa.PrivateKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		//nolint:staticcheck // PEM cifrado heredado (Proc-Type: 4,ENCRYPTED)
		if x509.IsEncryptedPEMBlock(block) {
			der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
			if err != nil {
				return nil, err
			}
			return x509.ParsePKCS1PrivateKey(der)
		}
		return pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
	}
	der, err := decodeBinary(data, "")
	if err != nil {
		return nil, err
	}
	return pkcs8.ParsePKCS8PrivateKeyRSA(der, []byte(passphrase))
}

// Load procesa la credencial completa y comprueba que llave y certificado formen par.
// El llamador debe destruir la llave devuelta.
func (p *CredentialProcessor) Load(cred domainsat.Credential) (*domainsat.ParsedCertificate, *domainsat.SigningKey, error) {
	cert, err := p.ParseCertificate(cred.Certificate)
	if err != nil {
		return nil, nil, err
	}
	if cred.RFC != "" && cert.RFC != "" && pkgsat.NormalizeRFC(cred.RFC) != cert.RFC {
		return nil, nil, &domainsat.Error{
			Kind:    domainsat.ErrCertificateMalformed,
			Op:      "certificado",
			Message: fmt.Sprintf("el certificado pertenece a %s y no a %s", cert.RFC, pkgsat.NormalizeRFC(cred.RFC)),
		}
	}
	key, err := p.DecryptPrivateKey(cred.PrivateKey, cred.Passphrase)
	if err != nil {
		return nil, nil, err
	}
	if err := matchKey(cert, key); err != nil {
		key.Destroy()
		return nil, nil, err
	}
	return cert, key, nil
}

// LoadFromP12 convierte un .pfx/.p12 en una Credential: certificado DER y llave
// re-cifrada en PKCS#8 con la misma contraseña.
func (p *CredentialProcessor) LoadFromP12(data []byte, password, rfc string) (domainsat.Credential, error) {
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return domainsat.Credential{}, domainsat.NewError(domainsat.ErrInvalidPassphrase, "pkcs12", nil)
	}
	rsaKey, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return domainsat.Credential{}, domainsat.NewError(domainsat.ErrInvalidPassphrase, "pkcs12", nil)
	}
	defer domainsat.NewSigningKey(rsaKey).Destroy()

	encrypted, err := pkcs8.MarshalPrivateKey(rsaKey, []byte(password), &pkcs8.Opts{
		Cipher: pkcs8.AES256CBC,
		KDFOpts: pkcs8.PBKDF2Opts{
			SaltSize:       16,
			IterationCount: 10000,
			HMACHash:       crypto.SHA256,
		},
	})
	if err != nil {
		return domainsat.Credential{}, domainsat.NewError(domainsat.ErrSignatureComputationFailed, "pkcs12", err)
	}
	if rfc == "" {
		rfc = subjectRFC(cert.Subject)
	}
	return domainsat.Credential{
		Certificate: cert.Raw,
		PrivateKey:  encrypted,
		Passphrase:  password,
		RFC:         pkgsat.NormalizeRFC(rfc),
	}, nil
}

func matchKey(cert *domainsat.ParsedCertificate, key *domainsat.SigningKey) error {
	parsed, err := x509.ParseCertificate(cert.Raw)
	if err != nil {
		return domainsat.NewError(domainsat.ErrCertificateMalformed, "certificado", err)
	}
	pub, ok := parsed.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(key.Public()) {
		return &domainsat.Error{
			Kind:    domainsat.ErrInvalidPassphrase,
			Op:      "llave privada",
			Message: "la llave privada no corresponde al certificado",
		}
	}
	return nil
}

// ── Codificación ──────────────────────────────────────────────────────────────

// decodeBinary devuelve DER a partir de DER, Base64 (con o sin saltos de línea) o PEM.
// pemType vacío acepta cualquier bloque PEM.
func decodeBinary(data []byte, pemType string) ([]byte, error) {
	// DER: SEQUENCE (0x30). No se recorta: el último byte puede parecer espacio.
	if len(data) > 0 && data[0] == 0x30 {
		return data, nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("contenido vacío")
	}
	if block, _ := pem.Decode(trimmed); block != nil {
		if pemType != "" && block.Type != pemType {
			return nil, fmt.Errorf("bloque PEM %q inesperado", block.Type)
		}
		return block.Bytes, nil
	}
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, string(trimmed))
	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("no es DER, Base64 ni PEM")
	}
	return der, nil
}

// ── Emisor y sujeto ───────────────────────────────────────────────────────────

// issuerName DN del emisor en el orden del certificado, como NOMBRE=valor separados por
// coma y con escape RFC 4514.
func issuerName(cert *x509.Certificate) (string, error) {
	var rdns pkix.RDNSequence
	if _, err := asn1.Unmarshal(cert.RawIssuer, &rdns); err != nil {
		return "", fmt.Errorf("emisor: %w", err)
	}
	var parts []string
	for _, rdn := range rdns {
		for _, atv := range rdn {
			name, ok := oidShortNames[atv.Type.String()]
			if !ok {
				name = atv.Type.String()
			}
			parts = append(parts, name+"="+escapeDNValue(fmt.Sprint(atv.Value)))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("emisor vacío")
	}
	return strings.Join(parts, ","), nil
}

func escapeDNValue(v string) string {
	var sb strings.Builder
	for i, r := range v {
		switch {
		case strings.ContainsRune(`,+"\<>;`, r):
			sb.WriteByte('\\')
		case i == 0 && (r == '#' || r == ' '):
			sb.WriteByte('\\')
		case i == len(v)-1 && r == ' ':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// subjectRFC RFC del x500UniqueIdentifier del sujeto. En personas morales el valor
// es "RFC / RFC del representante"; se toma el primero.
func subjectRFC(subject pkix.Name) string {
	for _, atv := range subject.Names {
		if !atv.Type.Equal(oidUniqueIdentifier) {
			continue
		}
		v := strings.TrimSpace(strings.SplitN(fmt.Sprint(atv.Value), "/", 2)[0])
		return pkgsat.NormalizeRFC(v)
	}
	return ""
}
