package signer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// ErrSignatureInvalid la firma no corresponde al contenido o al certificado.
var ErrSignatureInvalid = errors.New("signer: firma inválida")

// Verify revalida un documento firmado: recalcula el digest del subárbol referenciado
// y comprueba SignatureValue contra la llave pública del certificado.
func Verify(signed []byte, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: el certificado no tiene llave RSA", ErrSignatureInvalid)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signed); err != nil {
		return fmt.Errorf("%w: XML inválido: %v", ErrSignatureInvalid, err)
	}
	root := doc.Root()
	sigs := findAll(root, func(e *etree.Element) bool {
		return e.Tag == "Signature" && e.NamespaceURI() == NamespaceDS
	})
	if len(sigs) != 1 {
		return fmt.Errorf("%w: se esperaba una firma, hay %d", ErrSignatureInvalid, len(sigs))
	}
	sig := sigs[0]

	signedInfo := sig.SelectElement("SignedInfo")
	ref := signedInfo.NotNil().SelectElement("Reference")
	if signedInfo == nil || ref == nil {
		return fmt.Errorf("%w: SignedInfo incompleto", ErrSignatureInvalid)
	}
	digestMethod := ref.SelectElement("DigestMethod").NotNil().SelectAttrValue("Algorithm", "")
	signatureMethod := signedInfo.SelectElement("SignatureMethod").NotNil().SelectAttrValue("Algorithm", "")
	profile, ok := profileByURIs(digestMethod, signatureMethod)
	if !ok {
		return fmt.Errorf("%w: algoritmos no soportados %s / %s", ErrSignatureInvalid, digestMethod, signatureMethod)
	}

	// SignedInfo se canonicaliza en su contexto, antes de tocar el árbol.
	canonicalSignedInfo, err := canonicalizeElement(signedInfo)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	uri := ref.SelectAttrValue("URI", "")
	var target *etree.Element
	if uri == "" {
		target = sig.Parent()
	} else {
		target, err = ByID(strings.TrimPrefix(uri, "#")).locate(root)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
	}
	for _, tr := range ref.FindElements("./Transforms/Transform") {
		if tr.SelectAttrValue("Algorithm", "") == TransformEnveloped {
			sig.Parent().RemoveChild(sig)
			break
		}
	}

	canonicalTarget, err := canonicalizeElement(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	h := profile.Hash.New()
	h.Write(canonicalTarget)
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))
	expected := strings.TrimSpace(ref.SelectElement("DigestValue").NotNil().Text())
	if digest != expected {
		return fmt.Errorf("%w: digest no coincide", ErrSignatureInvalid)
	}

	value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.SelectElement("SignatureValue").NotNil().Text()))
	if err != nil {
		return fmt.Errorf("%w: SignatureValue no es Base64", ErrSignatureInvalid)
	}
	h = profile.Hash.New()
	h.Write(canonicalSignedInfo)
	if err := rsa.VerifyPKCS1v15(pub, profile.Hash, h.Sum(nil), value); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}
