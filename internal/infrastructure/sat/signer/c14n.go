package signer

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
)

// canonicalizeXML aplica Exclusive C14N a un documento XML completo.
func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// canonicalizeElement canonicaliza el subárbol el como si fuera un documento propio.
// Las declaraciones de namespace heredadas de los ancestros se copian a la raíz
// del subárbol sólo si el subárbol las utiliza visiblemente.
func canonicalizeElement(el *etree.Element) ([]byte, error) {
	detached := detach(el)
	raw, err := etree.NewDocumentWithRoot(detached).WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serializar subárbol: %w", err)
	}
	out, err := canonicalizeXML(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalizar %s: %w", el.FullTag(), err)
	}
	return out, nil
}

// detach copia el subárbol y le agrega las declaraciones de namespace en alcance.
func detach(el *etree.Element) *etree.Element {
	cp := el.Copy()
	used := map[string]bool{}
	collectPrefixes(cp, used)

	declared := map[string]bool{}
	for _, a := range cp.Attr {
		if a.Space == "xmlns" {
			declared[a.Key] = true
		}
		if a.Space == "" && a.Key == "xmlns" {
			declared[""] = true
		}
	}

	for prefix := range used {
		if declared[prefix] || prefix == "xml" {
			continue
		}
		if prefix == "" {
			if uri := defaultNamespaceOf(el); uri != "" {
				cp.CreateAttr("xmlns", uri)
			}
			continue
		}
		uri := namespaceOf(el, prefix)
		if uri == "" {
			continue
		}
		cp.CreateAttr("xmlns:"+prefix, uri)
	}
	return cp
}

// collectPrefixes registra los prefijos usados por elementos y atributos del subárbol.
// "" representa el namespace por defecto (sólo elementos sin prefijo lo usan).
func collectPrefixes(el *etree.Element, used map[string]bool) {
	used[el.Space] = true
	for _, a := range el.Attr {
		if a.Space != "" && a.Space != "xmlns" {
			used[a.Space] = true
		}
	}
	for _, child := range el.ChildElements() {
		collectPrefixes(child, used)
	}
}

func namespaceOf(el *etree.Element, prefix string) string {
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if a.Space == "xmlns" && a.Key == prefix {
				return a.Value
			}
		}
	}
	return ""
}

func defaultNamespaceOf(el *etree.Element) string {
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if a.Space == "" && a.Key == "xmlns" {
				return a.Value
			}
		}
	}
	return ""
}
