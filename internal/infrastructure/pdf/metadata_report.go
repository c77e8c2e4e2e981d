// Package pdf genera el reporte en PDF de la metadata de una descarga masiva.
//
// Layout de la página A4 (horizontal):
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│  HEADER: RFC solicitante + servicio │ IdSolicitud + período       │
//	│  ──────────────────────────────────────────────────────────────  │
//	│  RESUMEN: comprobantes / vigentes / cancelados / monto vigente    │
//	│  ──────────────────────────────────────────────────────────────  │
//	│  TABLA: UUID | Emisor | Receptor | Emisión | Efecto | Estatus | $ │
//	│  ──────────────────────────────────────────────────────────────  │
//	│  FOOTER: leyenda                                                  │
//	└──────────────────────────────────────────────────────────────────┘
package pdf

import (
	"fmt"
	"strings"
	"time"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/orientation"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/sat-descarga-masiva/internal/application/descarga"
	"github.com/jhoicas/sat-descarga-masiva/internal/domain/entity"
)

var _ descarga.ReportGenerator = (*MarotoReportGenerator)(nil)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 98, Green: 17, Blue: 50}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorRed     = &props.Color{Red: 170, Green: 30, Blue: 30}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
)

// ── Generator ─────────────────────────────────────────────────────────────────

// MarotoReportGenerator implementa descarga.ReportGenerator usando Maroto v2.
type MarotoReportGenerator struct {
	now func() time.Time
}

// NewMarotoReportGenerator construye el generador.
func NewMarotoReportGenerator() *MarotoReportGenerator {
	return &MarotoReportGenerator{now: time.Now}
}

// MetadataReport genera el PDF y devuelve sus bytes.
func (g *MarotoReportGenerator) MetadataReport(req *entity.DownloadRequest, records []*entity.CFDIMetadata) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithOrientation(orientation.Horizontal).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 8}).
		WithTitle("Metadata de descarga masiva "+req.SATRequestID, true).
		WithAuthor(req.RFC, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(req, g.now()))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(summaryRow(summarize(records)))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableRows(records)...)

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(footerRow())

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: RFC + servicio (izq) e IdSolicitud + período (der).
func headerRow(req *entity.DownloadRequest, generated time.Time) core.Row {
	period := "Folio " + req.Folio
	if req.Folio == "" {
		period = fmt.Sprintf("Del %s al %s", formatDate(req.StartDate), formatDate(req.EndDate))
	}
	return row.New(20).Add(
		col.New(7).Add(
			text.New("DESCARGA MASIVA SAT", props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("RFC solicitante: "+req.RFC, props.Text{Size: 9, Top: 9}),
			text.New(fmt.Sprintf("Servicio: %s   |   Tipo: %s", strings.ToUpper(req.Service), req.Kind), props.Text{
				Size: 8, Top: 14, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("IdSolicitud", props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right, Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(req.SATRequestID, "—"), props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 6,
			}),
			text.New(period, props.Text{Size: 8, Align: align.Right, Top: 11, Color: colorGray}),
			text.New("Generado: "+generated.Format("02/01/2006 15:04"), props.Text{
				Size: 7, Align: align.Right, Top: 15, Color: colorGray,
			}),
		),
	)
}

type summary struct {
	total, active, cancelled int
	activeAmount             decimal.Decimal
}

func summarize(records []*entity.CFDIMetadata) summary {
	s := summary{total: len(records), activeAmount: decimal.Zero}
	for _, r := range records {
		if r.Active() {
			s.active++
			s.activeAmount = s.activeAmount.Add(r.Amount)
		} else {
			s.cancelled++
		}
	}
	return s
}

// summaryRow: cuatro cifras del reporte.
func summaryRow(s summary) core.Row {
	cell := func(label, value string) core.Col {
		return col.New(3).Add(
			text.New(label, props.Text{Style: fontstyle.Bold, Size: 7, Color: colorPrimary, Top: 1, Align: align.Center}),
			text.New(value, props.Text{Style: fontstyle.Bold, Size: 11, Top: 6, Align: align.Center}),
		)
	}
	return row.New(14).Add(
		cell("COMPROBANTES", fmt.Sprint(s.total)),
		cell("VIGENTES", fmt.Sprint(s.active)),
		cell("CANCELADOS", fmt.Sprint(s.cancelled)),
		cell("MONTO VIGENTE", "$"+formatMoney(s.activeAmount)),
	)
}

// tableHeaderRow: cabecera de la tabla con fondo de color.
func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 7, Align: a,
			Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(7).Add(
		h("UUID", 3, align.Left),
		h("Emisor", 2, align.Left),
		h("Receptor", 2, align.Left),
		h("Emisión", 1, align.Center),
		h("Efecto", 1, align.Center),
		h("Estatus", 1, align.Center),
		h("Monto", 2, align.Right),
	).WithStyle(&props.Cell{BackgroundColor: colorPrimary})
}

// tableRows: una fila por comprobante; los cancelados en rojo.
func tableRows(records []*entity.CFDIMetadata) []core.Row {
	result := make([]core.Row, 0, len(records))
	for _, r := range records {
		status, color := "Vigente", (*props.Color)(nil)
		if !r.Active() {
			status, color = "Cancelado", colorRed
		}
		cell := func(s string, size int, a align.Type) core.Col {
			return col.New(size).Add(text.New(s, props.Text{
				Size: 7, Align: a, Top: 1, Left: 1, Right: 1, Color: color,
			}))
		}
		result = append(result, row.New(9).Add(
			cell(r.UUID, 3, align.Left),
			cell(r.IssuerRFC+"\n"+truncate(r.IssuerName, 32), 2, align.Left),
			cell(r.ReceiverRFC+"\n"+truncate(r.ReceiverName, 32), 2, align.Left),
			cell(formatDate(r.IssuedAt), 1, align.Center),
			cell(r.Effect, 1, align.Center),
			cell(status, 1, align.Center),
			cell("$"+formatMoney(r.Amount), 2, align.Right),
		))
	}
	return result
}

func footerRow() core.Row {
	return row.New(8).Add(col.New(12).Add(
		text.New(
			"Información obtenida del servicio de Descarga Masiva de CFDI del SAT. "+
				"El estatus corresponde a la fecha de la solicitud.",
			props.Text{Size: 6.5, Color: colorGray, Top: 2},
		),
	))
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.Format("02/01/2006")
}

// formatMoney dos decimales con comas de miles.
// Ej: 1160.5 → "1,160.50", -200 → "-200.00"
func formatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	n := len(intPart)
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, c)
	}
	return sign + string(buf) + "." + frac
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
