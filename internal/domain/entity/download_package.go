package entity

import "time"

// DownloadPackage paquete zip descargado del SAT. Cada IdPaquete se descarga una sola vez.
type DownloadPackage struct {
	ID           string
	RequestID    string
	PackageID    string // IdPaquete
	Content      []byte
	Size         int
	DownloadedAt time.Time
}
