// Package notify delivers best-effort emails after booking state
// transitions. Delivery failures are logged and counted, never returned
// to the flow that triggered them.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/observability/metrics"
)

// EmailSender sends a single rendered message.
type EmailSender interface {
	Send(ctx context.Context, toEmail, toName, subject, plainText, htmlBody string) error
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	client   *sendgrid.Client
	fromAddr string
	fromName string
}

func NewSendGridSender(apiKey, fromAddr, fromName string) *SendGridSender {
	return &SendGridSender{
		client:   sendgrid.NewSendClient(apiKey),
		fromAddr: fromAddr,
		fromName: fromName,
	}
}

func (s *SendGridSender) Send(ctx context.Context, toEmail, toName, subject, plainText, htmlBody string) error {
	from := mail.NewEmail(s.fromName, s.fromAddr)
	to := mail.NewEmail(toName, toEmail)
	msg := mail.NewSingleEmail(from, subject, to, plainText, htmlBody)

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d", resp.StatusCode)
	}
	return nil
}

// NopSender discards messages. Used when no SENDGRID_API_KEY is set.
type NopSender struct{}

func (NopSender) Send(ctx context.Context, toEmail, toName, subject, plainText, htmlBody string) error {
	return nil
}

// Notifier builds and dispatches domain notifications.
type Notifier struct {
	sender  EmailSender
	metrics *metrics.EngineMetrics
	log     *zap.Logger
}

func NewNotifier(sender EmailSender, m *metrics.EngineMetrics, log *zap.Logger) *Notifier {
	return &Notifier{sender: sender, metrics: m, log: log}
}

// BookingConfirmed emails the patient after a paid reservation commits.
// Errors are swallowed here so the payment outcome never depends on mail
// delivery.
func (n *Notifier) BookingConfirmed(ctx context.Context, appt *booking.Appointment, pract *booking.Practitioner, patient *booking.Patient) {
	if n == nil || patient.Email == "" {
		return
	}

	when := appt.ScheduledAt.Format("02-01-2006 15:04")
	practName := fmt.Sprintf("%s %s", pract.FirstName, pract.LastName)
	patientName := fmt.Sprintf("%s %s", patient.FirstName, patient.LastName)

	subject := "Tu reserva está confirmada"
	plain := fmt.Sprintf(
		"Hola %s,\n\nTu hora con %s (%s) quedó confirmada para el %s.\n\nEquipo Kinebook",
		patient.FirstName, practName, pract.Specialty, when,
	)
	html := fmt.Sprintf(
		"<p>Hola %s,</p><p>Tu hora con <strong>%s</strong> (%s) quedó confirmada para el <strong>%s</strong>.</p><p>Equipo Kinebook</p>",
		patient.FirstName, practName, pract.Specialty, when,
	)

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := n.sender.Send(sendCtx, patient.Email, patientName, subject, plain, html); err != nil {
		n.metrics.ObserveNotification("error")
		n.log.Warn("booking confirmation email",
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err))
		return
	}
	n.metrics.ObserveNotification("sent")
}
