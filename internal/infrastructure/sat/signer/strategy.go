package signer

import (
	"fmt"

	"github.com/beevik/etree"
)

// ── Objetivo de la referencia ─────────────────────────────────────────────────

type targetKind int

const (
	targetByID targetKind = iota + 1
	targetByLocalName
)

// ReferenceTarget identifica el subárbol firmado.
type ReferenceTarget struct {
	kind  targetKind
	value string
}

// ByID localiza el elemento cuyo atributo Id (o ID, con o sin prefijo) vale id.
func ByID(id string) ReferenceTarget {
	return ReferenceTarget{kind: targetByID, value: id}
}

// ByLocalName localiza el único elemento del documento con ese nombre local.
func ByLocalName(name string) ReferenceTarget {
	return ReferenceTarget{kind: targetByLocalName, value: name}
}

func (t ReferenceTarget) String() string {
	switch t.kind {
	case targetByID:
		return "Id=" + t.value
	case targetByLocalName:
		return "local-name()=" + t.value
	default:
		return "?"
	}
}

func (t ReferenceTarget) locate(root *etree.Element) (*etree.Element, error) {
	var matches []*etree.Element
	switch t.kind {
	case targetByID:
		matches = findAll(root, func(e *etree.Element) bool { return elementID(e) == t.value })
	case targetByLocalName:
		matches = findAll(root, func(e *etree.Element) bool { return e.Tag == t.value })
	default:
		return nil, fmt.Errorf("objetivo de referencia vacío")
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no se encontró el elemento %s", t)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("el elemento %s aparece %d veces", t, len(matches))
	}
}

// elementID valor del atributo Id/ID del elemento, cualquiera que sea su prefijo.
func elementID(e *etree.Element) string {
	for _, a := range e.Attr {
		if a.Space == "xmlns" {
			continue
		}
		if a.Key == "Id" || a.Key == "ID" {
			return a.Value
		}
	}
	return ""
}

func findAll(root *etree.Element, match func(*etree.Element) bool) []*etree.Element {
	var out []*etree.Element
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		if match(e) {
			out = append(out, e)
		}
		for _, c := range e.ChildElements() {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// ── Punto de inserción ────────────────────────────────────────────────────────

// Insertion indica dónde se agrega el nodo Signature.
type Insertion struct {
	localName string // vacío: dentro del propio objetivo (firma envuelta)
}

// AppendToTarget inserta la firma como último hijo del objetivo.
func AppendToTarget() Insertion { return Insertion{} }

// AppendTo inserta la firma como último hijo del único elemento con ese nombre local.
func AppendTo(localName string) Insertion { return Insertion{localName: localName} }

// Enveloped indica si la firma queda dentro del subárbol firmado.
func (i Insertion) Enveloped() bool { return i.localName == "" }

func (i Insertion) locate(root, target *etree.Element) (*etree.Element, error) {
	if i.Enveloped() {
		return target, nil
	}
	return ByLocalName(i.localName).locate(root)
}

// ── Estrategias ───────────────────────────────────────────────────────────────

// Strategy fija objetivo, punto de inserción y forma del KeyInfo de una operación.
// El conjunto es cerrado: sólo existen las cuatro estrategias de abajo.
type Strategy struct {
	name    string
	target  ReferenceTarget
	insert  Insertion
	keyInfo KeyInfoProvider
}

// Name nombre de la operación.
func (s Strategy) Name() string { return s.name }

// Target subárbol firmado.
func (s Strategy) Target() ReferenceTarget { return s.target }

// Insertion punto de inserción del nodo Signature.
func (s Strategy) Insertion() Insertion { return s.insert }

// KeyInfo forma del KeyInfo.
func (s Strategy) KeyInfo() KeyInfoProvider { return s.keyInfo }

var (
	// AuthenticationStrategy firma u:Timestamp, agrega la firma a o:Security y referencia
	// al o:BinarySecurityToken.
	AuthenticationStrategy = Strategy{
		name:    "autenticacion",
		target:  ByLocalName("Timestamp"),
		insert:  AppendTo("Security"),
		keyInfo: SecurityTokenReference{},
	}
	// RequestStrategy firma des:solicitud de SolicitaDescarga*.
	RequestStrategy = Strategy{
		name:    "solicitud",
		target:  ByLocalName("solicitud"),
		insert:  AppendToTarget(),
		keyInfo: IssuerSerial{},
	}
	// VerificationStrategy firma des:solicitud de VerificaSolicitudDescarga.
	VerificationStrategy = Strategy{
		name:    "verificacion",
		target:  ByLocalName("solicitud"),
		insert:  AppendToTarget(),
		keyInfo: IssuerSerial{},
	}
	// PackageStrategy firma des:peticionDescarga de Descargar.
	PackageStrategy = Strategy{
		name:    "descarga",
		target:  ByLocalName("peticionDescarga"),
		insert:  AppendToTarget(),
		keyInfo: CertificateOnly{},
	}
)

// Strategies lista de estrategias disponibles.
func Strategies() []Strategy {
	return []Strategy{AuthenticationStrategy, RequestStrategy, VerificationStrategy, PackageStrategy}
}
