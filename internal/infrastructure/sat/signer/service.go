// Firma XMLDSig (enveloped / detached dentro del mismo documento) con Exclusive C14N
// para los mensajes SOAP de Descarga Masiva del SAT.

package signer

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// SignedDocument documento con exactamente una firma sobre exactamente un subárbol.
// Modificar el subárbol después de firmar invalida la firma (Verify lo detecta).
type SignedDocument struct {
	Document       *etree.Document
	ReferenceURI   string
	DigestValue    string
	SignatureValue string
}

// Bytes serializa el documento para transmitirlo.
func (d *SignedDocument) Bytes() ([]byte, error) {
	return d.Document.WriteToBytes()
}

// SignatureService calcula e inserta la firma según una Strategy.
type SignatureService struct {
	profile AlgorithmProfile
}

// NewSignatureService crea el servicio con el perfil de algoritmos indicado.
func NewSignatureService(profile AlgorithmProfile) *SignatureService {
	if profile.Hash == 0 {
		profile = ProfileSHA1
	}
	return &SignatureService{profile: profile}
}

// Profile perfil de algoritmos en uso.
func (s *SignatureService) Profile() AlgorithmProfile { return s.profile }

// Sign firma una copia de doc. El documento recibido no se modifica; ante cualquier
// error se devuelve ErrSignatureComputationFailed y ningún documento.
func (s *SignatureService) Sign(doc *etree.Document, strategy Strategy, key *domainsat.SigningKey, cert *domainsat.ParsedCertificate) (*SignedDocument, error) {
	fail := func(err error) (*SignedDocument, error) {
		return nil, domainsat.NewError(domainsat.ErrSignatureComputationFailed, "firma "+strategy.name, err)
	}
	if doc == nil || doc.Root() == nil {
		return fail(fmt.Errorf("documento vacío"))
	}
	priv := key.RSA()
	if priv == nil {
		return fail(fmt.Errorf("llave privada no disponible"))
	}
	if strategy.keyInfo == nil {
		return fail(fmt.Errorf("estrategia sin KeyInfo"))
	}

	work := doc.Copy()
	root := work.Root()

	// 1) Objetivo e inserción
	target, err := strategy.target.locate(root)
	if err != nil {
		return fail(err)
	}
	parent, err := strategy.insert.locate(root, target)
	if err != nil {
		return fail(err)
	}
	uri := ""
	if !strategy.insert.Enveloped() {
		id := elementID(target)
		if id == "" {
			return fail(fmt.Errorf("el objetivo %s no tiene Id", strategy.target))
		}
		uri = "#" + id
	}

	// 2) Digest del subárbol (aún sin firma)
	canonicalTarget, err := canonicalizeElement(target)
	if err != nil {
		return fail(err)
	}
	digestB64 := s.digest(canonicalTarget)

	// 3) SignedInfo canonicalizado y firmado
	signedInfo := s.buildSignedInfo(uri, digestB64, strategy.insert.Enveloped())
	canonicalSignedInfo, err := canonicalizeElement(signedInfo)
	if err != nil {
		return fail(err)
	}
	signatureValue, err := s.signBytes(priv, canonicalSignedInfo)
	if err != nil {
		return fail(err)
	}
	signatureB64 := base64.StdEncoding.EncodeToString(signatureValue)

	// 4) Nodo Signature
	signature := etree.NewElement("Signature")
	signature.CreateAttr("xmlns", NamespaceDS)
	signedInfo.RemoveAttr("xmlns")
	signature.AddChild(signedInfo)
	signature.CreateElement("SignatureValue").SetText(signatureB64)
	keyInfo := signature.CreateElement("KeyInfo")
	if err := strategy.keyInfo.Build(keyInfo, root, cert); err != nil {
		return fail(err)
	}

	// 5) Inserción
	parent.AddChild(signature)

	return &SignedDocument{
		Document:       work,
		ReferenceURI:   uri,
		DigestValue:    digestB64,
		SignatureValue: signatureB64,
	}, nil
}

func (s *SignatureService) digest(data []byte) string {
	h := s.profile.Hash.New()
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (s *SignatureService) signBytes(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	h := s.profile.Hash.New()
	h.Write(data)
	sig, err := rsa.SignPKCS1v15(nil, priv, s.profile.Hash, h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("firmar SignedInfo: %w", err)
	}
	return sig, nil
}

// buildSignedInfo arma SignedInfo con xmlns propio para poder canonicalizarlo suelto.
func (s *SignatureService) buildSignedInfo(uri, digestB64 string, enveloped bool) *etree.Element {
	si := etree.NewElement("SignedInfo")
	si.CreateAttr("xmlns", NamespaceDS)
	si.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", s.profile.Canonicalization)
	si.CreateElement("SignatureMethod").CreateAttr("Algorithm", s.profile.SignatureMethod)
	ref := si.CreateElement("Reference")
	ref.CreateAttr("URI", uri)
	transforms := ref.CreateElement("Transforms")
	if enveloped {
		transforms.CreateElement("Transform").CreateAttr("Algorithm", TransformEnveloped)
	}
	transforms.CreateElement("Transform").CreateAttr("Algorithm", s.profile.Canonicalization)
	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", s.profile.DigestMethod)
	ref.CreateElement("DigestValue").SetText(digestB64)
	return si
}
