// Constantes XMLDSig para los mensajes firmados de Descarga Masiva.

package signer

import (
	"crypto"
	"fmt"
	"strings"
)

// Namespaces y algoritmos XMLDSig.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgExcC14N         = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// ValueTypeX509v3 tipo del o:BinarySecurityToken referenciado desde KeyInfo.
const ValueTypeX509v3 = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"


// AlgorithmProfile combinación de canonicalización, digest y firma.
type AlgorithmProfile struct {
	Name             string
	Canonicalization string
	DigestMethod     string
	SignatureMethod  string
	Hash             crypto.Hash
}

// ProfileSHA1 perfil que hoy acepta el SAT.
var ProfileSHA1 = AlgorithmProfile{
	Name:             "sha1",
	Canonicalization: AlgExcC14N,
	DigestMethod:     AlgSHA1,
	SignatureMethod:  AlgRSASHA1,
	Hash:             crypto.SHA1,
}

// ProfileSHA256 mismo esquema con SHA-256.
var ProfileSHA256 = AlgorithmProfile{
	Name:             "sha256",
	Canonicalization: AlgExcC14N,
	DigestMethod:     AlgSHA256,
	SignatureMethod:  AlgRSASHA256,
	Hash:             crypto.SHA256,
}

// ProfileByName resuelve SAT_SIGNATURE_ALGORITHM. Vacío equivale a sha1.
func ProfileByName(name string) (AlgorithmProfile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProfileSHA1.Name:
		return ProfileSHA1, nil
	case ProfileSHA256.Name:
		return ProfileSHA256, nil
	default:
		return AlgorithmProfile{}, fmt.Errorf("signer: algoritmo desconocido %q (usar 'sha1' o 'sha256')", name)
	}
}

func profileByURIs(digestMethod, signatureMethod string) (AlgorithmProfile, bool) {
	for _, p := range []AlgorithmProfile{ProfileSHA1, ProfileSHA256} {
		if p.DigestMethod == digestMethod && p.SignatureMethod == signatureMethod {
			return p, true
		}
	}
	return AlgorithmProfile{}, false
}
