// Package ticketpdf renders paid tickets as a single-page A4 PDF with
// an entry-verification QR code.
package ticketpdf

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/tikiti-ke/tikiti/internal/repository"
)

// Render produces the eTicket PDF for a paid ticket.  verifyBaseURL is
// the public base URL embedded in the QR code; gate staff scan it to
// check the ticket in.
func Render(d *repository.TicketDetail, verifyBaseURL string) ([]byte, error) {
	t := d.Ticket

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	pdf.SetAutoPageBreak(false, 0)

	// Header
	pdf.SetFont("Helvetica", "B", 22)
	pdf.Cell(0, 15, "TIKITI OFFICIAL eTICKET")
	pdf.Ln(22)

	pdf.SetDrawColor(220, 220, 220)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(8)

	// Ticket summary box with the QR alongside.
	yStart := pdf.GetY()
	pdf.SetFillColor(245, 245, 245)
	pdf.Rect(15, yStart, 120, 55, "F")

	pdf.SetXY(20, yStart+7)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "TICKET SUMMARY")
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Ticket Code: %s", t.Code))
	pdf.Ln(6)
	pdf.Cell(0, 8, fmt.Sprintf("Tier: %s", d.TierName))
	pdf.Ln(6)
	pdf.Cell(0, 8, fmt.Sprintf("Admits: %d", t.Quantity))
	pdf.Ln(6)
	pdf.Cell(0, 8, fmt.Sprintf("Total Paid: KES %d.%02d", t.TotalCents/100, t.TotalCents%100))

	qrURL := fmt.Sprintf("%s/v1/tickets/verify/%s", verifyBaseURL, t.Code)
	qrBytes, err := qrcode.Encode(qrURL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	pdf.RegisterImageOptionsReader("qr", gofpdf.ImageOptions{ImageType: "png"}, bytes.NewReader(qrBytes))
	pdf.ImageOptions("qr", 145, yStart+5, 45, 0, false, gofpdf.ImageOptions{ImageType: "png"}, 0, "")

	pdf.SetY(yStart + 63)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.Cell(0, 6, "Scan this QR code for entry verification.")
	pdf.Ln(8)

	// Event details
	drawSectionTitle(pdf, "EVENT DETAILS")
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Event: %s", d.EventTitle))
	pdf.Ln(6)
	if d.StartsAt != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Date & Time: %s", d.StartsAt))
		pdf.Ln(6)
	}
	if d.EventVenue != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Venue: %s", d.EventVenue))
		pdf.Ln(6)
	}
	pdf.Ln(2)

	// Buyer
	drawSectionTitle(pdf, "PURCHASER")
	pdf.SetFont("Helvetica", "", 12)
	if t.GuestName != nil {
		pdf.Cell(0, 8, fmt.Sprintf("Name: %s", *t.GuestName))
		pdf.Ln(6)
	}
	if t.GuestEmail != nil {
		pdf.Cell(0, 8, fmt.Sprintf("Email: %s", *t.GuestEmail))
		pdf.Ln(6)
	}
	if t.PhoneNumber != nil {
		pdf.Cell(0, 8, fmt.Sprintf("Phone: %s", *t.PhoneNumber))
		pdf.Ln(6)
	}
	pdf.Ln(2)

	// Payment
	drawSectionTitle(pdf, "PAYMENT INFORMATION")
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, "Method: M-Pesa STK Push")
	pdf.Ln(6)
	if t.CheckoutRequestID != nil {
		pdf.Cell(0, 8, fmt.Sprintf("Reference: %s", *t.CheckoutRequestID))
		pdf.Ln(6)
	}

	// Footer pinned to the bottom of the page.
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, 285, 195, 285)
	pdf.SetY(288)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.CellFormat(0, 8, "© 2026 Tikiti. All Rights Reserved.", "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawSectionTitle adds consistent section headers.
func drawSectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(0, 9, title, "", 1, "L", true, 0, "")
	pdf.Ln(3)
}
