package sat

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// rfcPattern 3 letras (persona moral) o 4 (persona física), fecha AAMMDD y homoclave.
var rfcPattern = regexp.MustCompile(`^[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}$`)

// RFC genéricos definidos por el SAT.
const (
	RFCGenericNational = "XAXX010101000" // público en general
	RFCGenericForeign  = "XEXX010101000" // residentes en el extranjero
)

var upper = cases.Upper(language.MustParse("es-MX"))

// NormalizeRFC quita espacios y guiones y pasa a mayúsculas (incluida la Ñ).
func NormalizeRFC(rfc string) string {
	rfc = strings.TrimSpace(rfc)
	rfc = strings.ReplaceAll(rfc, "-", "")
	rfc = strings.ReplaceAll(rfc, " ", "")
	return upper.String(rfc)
}

// ValidateRFC valida la estructura del RFC ya normalizado.
func ValidateRFC(rfc string) error {
	if rfc == "" {
		return fmt.Errorf("sat: RFC vacío")
	}
	if !rfcPattern.MatchString(rfc) {
		return fmt.Errorf("sat: RFC %q con formato inválido", rfc)
	}
	return nil
}

// IsMoral indica si el RFC corresponde a una persona moral (12 caracteres).
func IsMoral(rfc string) bool {
	return len([]rune(rfc)) == 12
}
