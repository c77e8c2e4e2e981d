package sat

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
	domainsat "github.com/jhoicas/sat-descarga-masiva/internal/domain/sat"
)

const (
	metadataSeparator  = "~"
	metadataDateLayout = "2006-01-02 15:04:05"
	maxEntrySize       = 256 << 20
)

// PackageEntry archivo dentro de un paquete descargado.
type PackageEntry struct {
	Name    string
	UUID    string // nombre del archivo sin extensión, en mayúsculas
	Content []byte
}

// PackageReader lee los paquetes zip devueltos por Descargar: XML de CFDI o un .txt
// de metadata separado por "~".
type PackageReader struct{}

// NewPackageReader construye el lector.
func NewPackageReader() *PackageReader {
	return &PackageReader{}
}

// Entries devuelve todos los archivos del paquete.
func (r *PackageReader) Entries(content []byte) ([]PackageEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrInvalidPackage, "paquete", err)
	}
	entries := make([]PackageEntry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		name := path.Base(f.Name)
		entries = append(entries, PackageEntry{
			Name:    name,
			UUID:    strings.ToUpper(strings.TrimSuffix(name, path.Ext(name))),
			Content: data,
		})
	}
	return entries, nil
}

// CFDIs sólo los XML del paquete.
func (r *PackageReader) CFDIs(content []byte) ([]PackageEntry, error) {
	entries, err := r.Entries(content)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if strings.EqualFold(path.Ext(e.Name), ".xml") {
			out = append(out, e)
		}
	}
	return out, nil
}

// Metadata renglones de todos los .txt del paquete.
func (r *PackageReader) Metadata(content []byte, requestID string) ([]*entity.CFDIMetadata, error) {
	entries, err := r.Entries(content)
	if err != nil {
		return nil, err
	}
	var records []*entity.CFDIMetadata
	for _, e := range entries {
		if !strings.EqualFold(path.Ext(e.Name), ".txt") {
			continue
		}
		recs, err := ParseMetadata(bytes.NewReader(e.Content), requestID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrInvalidPackage, "paquete", fmt.Errorf("%s: %w", f.Name, err))
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrInvalidPackage, "paquete", fmt.Errorf("%s: %w", f.Name, err))
	}
	if len(data) > maxEntrySize {
		return nil, &domainsat.Error{Kind: domainsat.ErrInvalidPackage, Op: "paquete", Message: f.Name + " excede el tamaño máximo"}
	}
	return data, nil
}

// ── Metadata ──────────────────────────────────────────────────────────────────

// ParseMetadata lee un archivo de metadata. La primera línea es el encabezado; las
// columnas se ubican por nombre, así que el orden y las columnas extra no importan.
func ParseMetadata(rd io.Reader, requestID string) ([]*entity.CFDIMetadata, error) {
	raw, err := io.ReadAll(rd)
	if err != nil {
		return nil, domainsat.NewError(domainsat.ErrInvalidPackage, "metadata", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) {
		if raw, err = charmap.ISO8859_1.NewDecoder().Bytes(raw); err != nil {
			return nil, domainsat.NewError(domainsat.ErrInvalidPackage, "metadata", err)
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var columns map[string]int
	var records []*entity.CFDIMetadata
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, metadataSeparator)
		if columns == nil {
			columns = make(map[string]int, len(fields))
			for i, name := range fields {
				columns[strings.ToLower(strings.TrimSpace(name))] = i
			}
			if _, ok := columns["uuid"]; !ok {
				return nil, &domainsat.Error{Kind: domainsat.ErrInvalidPackage, Op: "metadata", Message: "encabezado sin columna Uuid"}
			}
			continue
		}
		rec, err := metadataRecord(columns, fields, requestID)
		if err != nil {
			return nil, &domainsat.Error{Kind: domainsat.ErrInvalidPackage, Op: "metadata", Message: fmt.Sprintf("línea %d", line), Err: err}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, domainsat.NewError(domainsat.ErrInvalidPackage, "metadata", err)
	}
	if columns == nil {
		return nil, &domainsat.Error{Kind: domainsat.ErrInvalidPackage, Op: "metadata", Message: "archivo vacío"}
	}
	return records, nil
}

func metadataRecord(columns map[string]int, fields []string, requestID string) (*entity.CFDIMetadata, error) {
	get := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}
	rec := &entity.CFDIMetadata{
		UUID:         strings.ToUpper(get("uuid")),
		RequestID:    requestID,
		IssuerRFC:    get("rfcemisor"),
		IssuerName:   get("nombreemisor"),
		ReceiverRFC:  get("rfcreceptor"),
		ReceiverName: get("nombrereceptor"),
		PacRFC:       get("rfcpac"),
		Effect:       get("efectocomprobante"),
		Status:       get("estatus"),
	}
	if rec.UUID == "" {
		return nil, fmt.Errorf("Uuid vacío")
	}
	var err error
	if rec.IssuedAt, err = parseMetadataDate(get("fechaemision")); err != nil {
		return nil, fmt.Errorf("FechaEmision: %w", err)
	}
	if rec.CertifiedAt, err = parseMetadataDate(get("fechacertificacionsat")); err != nil {
		return nil, fmt.Errorf("FechaCertificacionSat: %w", err)
	}
	if v := get("fechacancelacion"); v != "" {
		t, err := parseMetadataDate(v)
		if err != nil {
			return nil, fmt.Errorf("FechaCancelacion: %w", err)
		}
		rec.CancelledAt = &t
	}
	if v := get("monto"); v != "" {
		if rec.Amount, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("Monto %q: %w", v, err)
		}
	}
	return rec, nil
}

func parseMetadataDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(metadataDateLayout, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", v)
}
