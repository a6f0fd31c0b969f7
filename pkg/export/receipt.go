package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Receipt holds the settlement details rendered onto a payment receipt.
type Receipt struct {
	SchoolName   string
	EnrollmentID string
	IntentID     string
	Amount       int64
	Currency     string
	Description  string
	SettledAt    time.Time
}

// ReceiptRenderer renders settlement receipts as PDF documents.
type ReceiptRenderer struct{}

// NewReceiptRenderer constructs a receipt renderer.
func NewReceiptRenderer() *ReceiptRenderer {
	return &ReceiptRenderer{}
}

// Render produces the PDF bytes for a settled payment.
func (r *ReceiptRenderer) Render(receipt Receipt) ([]byte, error) {
	if receipt.EnrollmentID == "" || receipt.IntentID == "" {
		return nil, fmt.Errorf("receipt requires enrollment and intent identifiers")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	title := receipt.SchoolName
	if title == "" {
		title = "Payment Receipt"
	}
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 8, "Official Payment Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Enrollment ID", receipt.EnrollmentID},
		{"Payment Reference", receipt.IntentID},
		{"Description", receipt.Description},
		{"Amount", formatAmount(receipt.Amount, receipt.Currency)},
		{"Settled At", receipt.SettledAt.Format("2006-01-02 15:04:05 MST")},
	}

	pdf.SetFont("Arial", "", 10)
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(55, 9, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(125, 9, row[1], "1", 1, "", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 6, "This receipt was generated automatically upon payment settlement.", "", 1, "", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func formatAmount(cents int64, currency string) string {
	if currency == "" {
		currency = "PHP"
	}
	return fmt.Sprintf("%s %.2f", currency, float64(cents)/100)
}
