package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// CFDIMetadata renglón del archivo de metadata de un paquete.
type CFDIMetadata struct {
	UUID         string
	RequestID    string
	IssuerRFC    string
	IssuerName   string
	ReceiverRFC  string
	ReceiverName string
	PacRFC       string
	IssuedAt     time.Time
	CertifiedAt  time.Time
	Amount       decimal.Decimal // Monto
	Effect       string          // EfectoComprobante: I, E, T, N, P
	Status       string          // Estatus: 1 vigente, 0 cancelado
	CancelledAt  *time.Time
}

// Active indica si el comprobante está vigente.
func (m *CFDIMetadata) Active() bool {
	return m.Status == "1"
}
