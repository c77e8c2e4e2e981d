package signer

import (
	"fmt"

	"github.com/beevik/etree"

	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

// KeyInfoProvider llena el nodo KeyInfo de la firma.
type KeyInfoProvider interface {
	Name() string
	Build(keyInfo *etree.Element, root *etree.Element, cert *domainsat.ParsedCertificate) error
}

// SecurityTokenReference referencia al o:BinarySecurityToken del encabezado WS-Security.
type SecurityTokenReference struct{}

func (SecurityTokenReference) Name() string { return "SecurityTokenReference" }

func (SecurityTokenReference) Build(keyInfo, root *etree.Element, _ *domainsat.ParsedCertificate) error {
	tokens := findAll(root, func(e *etree.Element) bool { return e.Tag == "BinarySecurityToken" })
	if len(tokens) != 1 {
		return fmt.Errorf("se esperaba un BinarySecurityToken, hay %d", len(tokens))
	}
	id := elementID(tokens[0])
	if id == "" {
		return fmt.Errorf("BinarySecurityToken sin u:Id")
	}
	// El prefijo o: se declara en el Envelope.
	str := keyInfo.CreateElement("o:SecurityTokenReference")
	ref := str.CreateElement("o:Reference")
	ref.CreateAttr("ValueType", ValueTypeX509v3)
	ref.CreateAttr("URI", "#"+id)
	return nil
}

// IssuerSerial X509Data con emisor, número de serie y certificado.
type IssuerSerial struct{}

func (IssuerSerial) Name() string { return "IssuerSerial" }

func (IssuerSerial) Build(keyInfo, _ *etree.Element, cert *domainsat.ParsedCertificate) error {
	if cert == nil || cert.IssuerName == "" || cert.SerialNumber == "" || cert.RawBase64 == "" {
		return fmt.Errorf("certificado incompleto para X509IssuerSerial")
	}
	data := keyInfo.CreateElement("X509Data")
	is := data.CreateElement("X509IssuerSerial")
	is.CreateElement("X509IssuerName").SetText(cert.IssuerName)
	is.CreateElement("X509SerialNumber").SetText(cert.SerialNumber)
	data.CreateElement("X509Certificate").SetText(cert.RawBase64)
	return nil
}

// CertificateOnly X509Data con el certificado.
type CertificateOnly struct{}

func (CertificateOnly) Name() string { return "CertificateOnly" }

func (CertificateOnly) Build(keyInfo, _ *etree.Element, cert *domainsat.ParsedCertificate) error {
	if cert == nil || cert.RawBase64 == "" {
		return fmt.Errorf("certificado vacío")
	}
	keyInfo.CreateElement("X509Data").CreateElement("X509Certificate").SetText(cert.RawBase64)
	return nil
}
