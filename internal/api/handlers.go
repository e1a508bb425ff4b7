package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kinebook/booking-engine/internal/booking"
	"github.com/kinebook/booking-engine/internal/payment"
)

// Public endpoints

func listPublicSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}
		slots, err := svc.ListAvailableSlots(r.Context(), practitionerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "slot_id must be a valid UUID")
			return
		}
		in, err := req.Patient.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "birth_date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Book(r.Context(), slotID, in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func patientAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rut := chi.URLParam(r, "rut")
		_, appts, err := svc.AppointmentsByRUT(r.Context(), rut)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]appointmentResponse, 0, len(appts))
		for _, a := range appts {
			out = append(out, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func appointmentDetailHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}
		detail, err := svc.AppointmentDetail(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := appointmentDetailResponse{
			appointmentResponse: toAppointmentResponse(detail.Appointment),
			CanReview:           detail.CanReview,
		}
		if detail.Practitioner != nil {
			resp.Practitioner = practitionerSummary{
				ID:        detail.Practitioner.ID,
				FirstName: detail.Practitioner.FirstName,
				LastName:  detail.Practitioner.LastName,
				Specialty: detail.Practitioner.Specialty,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Payment endpoints

func initiateAppointmentPaymentHandler(rec *payment.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initiatePaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "slot_id must be a valid UUID")
			return
		}
		in, err := req.Patient.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "birth_date must be YYYY-MM-DD")
			return
		}

		res, err := rec.Initiate(r.Context(), payment.InitiateInput{
			SlotID:  slotID,
			Amount:  req.Amount,
			Patient: in,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, initiatePaymentResponse{
			AppointmentID: res.AppointmentID,
			BuyOrder:      res.BuyOrder,
			Token:         res.Token,
			RedirectURL:   res.RedirectURL,
		})
	}
}

// gatewayReturn is what both return endpoints parse out of the redirect
// the gateway sends the payer back with. A normal return carries
// token_ws; an abandonment carries TBK_TOKEN plus TBK_ORDEN_COMPRA.
type gatewayReturn struct {
	Token         string
	AbandonToken  string
	AbandonedUUID string
}

func parseGatewayReturn(r *http.Request) gatewayReturn {
	get := func(key string) string {
		if v := r.URL.Query().Get(key); v != "" {
			return v
		}
		return r.PostFormValue(key)
	}
	return gatewayReturn{
		Token:         get("token_ws"),
		AbandonToken:  get("TBK_TOKEN"),
		AbandonedUUID: get("TBK_ORDEN_COMPRA"),
	}
}

// appointmentReturnHandler settles a gateway return for an appointment
// order, then either redirects the payer to the frontend result page or
// answers JSON when no frontend is configured.
func appointmentReturnHandler(rec *payment.Reconciler, frontendBaseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ret := parseGatewayReturn(r)

		switch {
		case ret.AbandonToken != "":
			if ret.AbandonedUUID == "" {
				writeError(w, http.StatusBadRequest, "abandonment without TBK_ORDEN_COMPRA")
				return
			}
			if err := rec.Abandon(r.Context(), ret.AbandonedUUID); err != nil {
				writeDomainError(w, err)
				return
			}
			finishReturn(w, r, frontendBaseURL, &payment.ReconcileResult{
				Outcome:  "abandoned",
				BuyOrder: ret.AbandonedUUID,
			})

		case ret.Token != "":
			res, err := rec.Reconcile(r.Context(), ret.Token)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			finishReturn(w, r, frontendBaseURL, res)

		default:
			writeError(w, http.StatusBadRequest, "missing token_ws or TBK_TOKEN")
		}
	}
}

func subscriptionReturnHandler(rec *payment.SubscriptionReconciler, frontendBaseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ret := parseGatewayReturn(r)

		switch {
		case ret.AbandonToken != "":
			if ret.AbandonedUUID == "" {
				writeError(w, http.StatusBadRequest, "abandonment without TBK_ORDEN_COMPRA")
				return
			}
			if err := rec.Abandon(r.Context(), ret.AbandonedUUID); err != nil {
				writeDomainError(w, err)
				return
			}
			finishReturn(w, r, frontendBaseURL, &payment.ReconcileResult{
				Outcome:  "abandoned",
				BuyOrder: ret.AbandonedUUID,
			})

		case ret.Token != "":
			res, err := rec.Reconcile(r.Context(), ret.Token)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			finishReturn(w, r, frontendBaseURL, res)

		default:
			writeError(w, http.StatusBadRequest, "missing token_ws or TBK_TOKEN")
		}
	}
}

func finishReturn(w http.ResponseWriter, r *http.Request, frontendBaseURL string, res *payment.ReconcileResult) {
	if frontendBaseURL == "" {
		writeJSON(w, http.StatusOK, reconcileResponse{
			Outcome:       string(res.Outcome),
			BuyOrder:      res.BuyOrder,
			AppointmentID: res.AppointmentID,
		})
		return
	}
	q := url.Values{}
	q.Set("outcome", string(res.Outcome))
	q.Set("buy_order", res.BuyOrder)
	http.Redirect(w, r, frontendBaseURL+"/payments/result?"+q.Encode(), http.StatusSeeOther)
}

func initiateSubscriptionHandler(rec *payment.SubscriptionReconciler, defaultAmount int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pract, ok := PractitionerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req subscriptionInitiateRequest
		// An empty body means "use the configured price".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "could not parse JSON")
			return
		}
		amount := req.Amount
		if amount == 0 {
			amount = defaultAmount
		}

		res, err := rec.Initiate(r.Context(), pract.ID, amount)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, initiatePaymentResponse{
			BuyOrder:    res.BuyOrder,
			Token:       res.Token,
			RedirectURL: res.RedirectURL,
		})
	}
}

func subscriptionStatusHandler(rec *payment.SubscriptionReconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pract, ok := PractitionerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		status, err := rec.Status(r.Context(), pract.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, subscriptionStatusResponse{
			Active:    status.Active,
			ExpiresAt: status.ExpiresAt,
		})
	}
}

// Practitioner endpoints (behind AuthMiddleware)

func publishSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pract, ok := PractitionerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req publishSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "could not parse JSON")
			return
		}

		slot, err := svc.PublishSlot(r.Context(), pract.ID, req.StartAt, req.EndAt)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
	}
}

func listOwnSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pract, ok := PractitionerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		slots, err := svc.ListPractitionerSlots(r.Context(), pract.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func deleteSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pract, ok := PractitionerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		slotID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}
		if err := svc.DeleteSlot(r.Context(), pract.ID, slotID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func completeAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pract, ok := PractitionerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}
		appt, err := svc.CompleteAppointment(r.Context(), pract.ID, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pract, ok := PractitionerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a valid UUID")
			return
		}
		if err := svc.CancelAppointment(r.Context(), pract.ID, id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
