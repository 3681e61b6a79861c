package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"genwatch/internal/stats"
)

// MonthPDF renders a one-page monthly report with a per-day table.
// Days without sessions are omitted from the table.
func MonthPDF(ms stats.MonthlyStats, currency string, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, "Generator Report "+ms.Month)
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(8)
	pdf.Cell(0, 6, fmt.Sprintf("Runtime: %.2f h", ms.TotalRuntimeHours))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Fuel used: %.2f l", ms.TotalFuelLiters))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Cost: %.2f %s", ms.TotalCost, currency))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Sessions: %d", ms.SessionsCount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Average per day: %.2f h", ms.AvgPerDay))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(35, 6, "Day", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Runtime (h)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Fuel (l)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Cost", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Sessions", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, d := range ms.Daily {
		if d.SessionsCount == 0 {
			continue
		}
		pdf.CellFormat(35, 6, d.Date, "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", d.TotalRuntimeHours), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", d.TotalFuelLiters), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", d.TotalCost), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", d.SessionsCount), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
