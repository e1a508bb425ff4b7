package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/booking"
)

type captureSender struct {
	toEmail string
	subject string
	plain   string
	calls   int
	err     error
}

func (c *captureSender) Send(ctx context.Context, toEmail, toName, subject, plainText, htmlBody string) error {
	c.calls++
	c.toEmail = toEmail
	c.subject = subject
	c.plain = plainText
	return c.err
}

func confirmationFixtures() (*booking.Appointment, *booking.Practitioner, *booking.Patient) {
	appt := &booking.Appointment{
		ID:          uuid.New(),
		ScheduledAt: time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC),
	}
	pract := &booking.Practitioner{
		FirstName: "Laura",
		LastName:  "Soto",
		Specialty: "kinesiology",
	}
	patient := &booking.Patient{
		FirstName: "Pedro",
		LastName:  "Rojas",
		Email:     "pedro@example.com",
	}
	return appt, pract, patient
}

func TestBookingConfirmedSendsEmail(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(sender, nil, zap.NewNop())
	appt, pract, patient := confirmationFixtures()

	n.BookingConfirmed(context.Background(), appt, pract, patient)

	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, "pedro@example.com", sender.toEmail)
	assert.Contains(t, sender.plain, "Laura Soto")
	assert.Contains(t, sender.plain, "15-09-2026 10:00")
}

func TestBookingConfirmedSkipsPatientsWithoutEmail(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(sender, nil, zap.NewNop())
	appt, pract, patient := confirmationFixtures()
	patient.Email = ""

	n.BookingConfirmed(context.Background(), appt, pract, patient)

	assert.Zero(t, sender.calls)
}

func TestBookingConfirmedSwallowsSendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("smtp down")}
	n := NewNotifier(sender, nil, zap.NewNop())
	appt, pract, patient := confirmationFixtures()

	// Must not panic or propagate; delivery is best effort.
	n.BookingConfirmed(context.Background(), appt, pract, patient)

	assert.Equal(t, 1, sender.calls)
}
