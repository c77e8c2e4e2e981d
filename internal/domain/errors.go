package domain

import "errors"

// Errores de aplicación (sin dependencias externas). Los errores del protocolo SAT
// viven en internal/domain/sat.
var (
	ErrNotFound           = errors.New("recurso no encontrado")
	ErrInvalidInput       = errors.New("entrada inválida")
	ErrDuplicate          = errors.New("recurso duplicado")
	ErrUnauthorized       = errors.New("no autorizado")
	ErrForbidden          = errors.New("acceso denegado")
	ErrConflict           = errors.New("conflicto con el estado actual")
	ErrCredentialRequired = errors.New("se requiere la FIEL del contribuyente")
)
