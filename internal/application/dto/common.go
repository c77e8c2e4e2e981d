package dto

// PageRequest paginación para listados.
type PageRequest struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

// DefaultPage aplica valores por defecto y el tope de 100.
func (p *PageRequest) DefaultPage() {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// PageResponse metadatos de página en respuestas.
type PageResponse struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// ErrorResponse cuerpo de error HTTP. SATCode y SATMessage llevan el CodEstatus / faultcode
// y el mensaje del SAT tal cual; Ambiguous indica que la petición pudo haber llegado al SAT.
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	SATCode    string `json:"sat_code,omitempty"`
	SATMessage string `json:"sat_message,omitempty"`
	Ambiguous  bool   `json:"ambiguous,omitempty"`
}

// ListResponse listado paginado.
type ListResponse[T any] struct {
	Items []T          `json:"items"`
	Page  PageResponse `json:"page"`
}
