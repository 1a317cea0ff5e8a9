package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Generator renders printable agenda exports.
type Generator interface {
	GenerateDailyAgenda(data AgendaData) ([]byte, error)
}

type AgendaGenerator struct {
	fontName string
}

type AgendaRow struct {
	Start    time.Time
	End      time.Time
	Title    string
	Priority string
	Synced   bool
}

type AgendaData struct {
	UserName string
	Date     time.Time
	Timezone string
	Rows     []AgendaRow

	// Tasks without a slot, listed below the timeline with their reason.
	Unscheduled []string
}

func NewAgendaGenerator() *AgendaGenerator {
	return &AgendaGenerator{fontName: "Helvetica"}
}

func (g *AgendaGenerator) GenerateDailyAgenda(data AgendaData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Agenda %s", data.Date.Format("2006-01-02")), false)
	pdf.SetAuthor("dayflow", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont(g.fontName, "B", 18)
	pdf.CellFormat(0, 10, "DAILY AGENDA", "", 1, "C", false, 0, "")

	pdf.SetFont(g.fontName, "", 12)
	sub := fmt.Sprintf("%s - %s (%s)", data.UserName, data.Date.Format("Mon, 02 Jan 2006"), data.Timezone)
	pdf.CellFormat(0, 7, sub, "", 1, "C", false, 0, "")
	g.hr(pdf)
	pdf.Ln(3)

	if len(data.Rows) == 0 {
		pdf.SetFont(g.fontName, "", 11)
		pdf.CellFormat(0, 6, "Nothing scheduled for this day.", "", 1, "L", false, 0, "")
	}

	for _, row := range data.Rows {
		pdf.SetFont(g.fontName, "B", 11)
		span := fmt.Sprintf("%s - %s", row.Start.Format("15:04"), row.End.Format("15:04"))
		pdf.CellFormat(40, 6, span, "", 0, "L", false, 0, "")

		pdf.SetFont(g.fontName, "", 11)
		title := row.Title
		if !row.Synced {
			title += "  [sync pending]"
		}
		pdf.CellFormat(110, 6, title, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, row.Priority, "", 1, "R", false, 0, "")
	}

	if len(data.Unscheduled) > 0 {
		pdf.Ln(4)
		g.hr(pdf)
		g.sectionTitle(pdf, "Unscheduled")
		for _, title := range data.Unscheduled {
			pdf.CellFormat(0, 6, "- "+title, "", 1, "L", false, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *AgendaGenerator) sectionTitle(pdf *gofpdf.Fpdf, s string) {
	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 7, s, "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
}

func (g *AgendaGenerator) hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 2)
}

var _ Generator = (*AgendaGenerator)(nil)
