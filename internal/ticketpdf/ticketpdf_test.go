package ticketpdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikiti-ke/tikiti/internal/model"
	"github.com/tikiti-ke/tikiti/internal/repository"
)

func TestRender(t *testing.T) {
	name := "Jane Doe"
	email := "jane@example.com"
	msisdn := "254712345678"
	checkout := "ws_CO_191220191020363925"
	d := &repository.TicketDetail{
		Ticket: model.Ticket{
			ID:                42,
			Code:              "0b1f7f3a-2f45-4f7e-9c39-0a1f2b3c4d5e",
			Quantity:          2,
			TotalCents:        200000,
			Status:            model.TicketPaid,
			GuestName:         &name,
			GuestEmail:        &email,
			PhoneNumber:       &msisdn,
			CheckoutRequestID: &checkout,
		},
		EventTitle: "Sol Fest",
		EventVenue: "Uhuru Gardens",
		StartsAt:   "2026-10-01 18:00",
		TierName:   "Regular",
	}

	pdf, err := Render(d, "https://tickets.example.com")
	require.NoError(t, err)
	require.NotEmpty(t, pdf)
	assert.Equal(t, "%PDF", string(pdf[:4]))
}

func TestRenderAccountTicketWithoutGuestFields(t *testing.T) {
	uid := uint64(9)
	d := &repository.TicketDetail{
		Ticket: model.Ticket{
			ID:         43,
			Code:       "3c7e8a90-6a1b-4d2c-8e5f-7a8b9c0d1e2f",
			Quantity:   1,
			TotalCents: 100000,
			Status:     model.TicketPaid,
			UserID:     &uid,
		},
		EventTitle: "Sol Fest",
		TierName:   "VIP",
	}

	pdf, err := Render(d, "https://tickets.example.com")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf[:4]))
}
