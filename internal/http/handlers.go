package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokatix/checkout/internal/adapters/crdb"
	"github.com/lokatix/checkout/internal/checkout"
	"github.com/lokatix/checkout/internal/coupon"
	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/idempotency"
	"github.com/lokatix/checkout/internal/points"
)

type Handlers struct {
	svc      *checkout.Service
	resolver *coupon.Resolver
	ledger   *points.Ledger
	idemp    *idempotency.Idempotency
	pool     *pgxpool.Pool
}

func NewHandlers(svc *checkout.Service, resolver *coupon.Resolver, ledger *points.Ledger, idemp *idempotency.Idempotency, pool *pgxpool.Pool) *Handlers {
	return &Handlers{
		svc:      svc,
		resolver: resolver,
		ledger:   ledger,
		idemp:    idemp,
		pool:     pool,
	}
}

// writeError maps domain sentinels to HTTP statuses. Validation problems are
// 4xx, contention and state conflicts are 409, everything else is an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCouponNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponLimitReached),
		errors.Is(err, domain.ErrMinPurchaseNotMet),
		errors.Is(err, domain.ErrInsufficientPoints):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSoldOut),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSerializationFailure):
		status = http.StatusConflict
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) []byte {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func transactionResponse(txn domain.Transaction) map[string]interface{} {
	resp := map[string]interface{}{
		"id":              txn.ID,
		"user_id":         txn.UserID,
		"event_id":        txn.EventID,
		"ticket_tier_id":  txn.TicketTierID,
		"quantity":        txn.Quantity,
		"total_amount":    txn.TotalAmount,
		"discount_amount": txn.DiscountAmount,
		"points_used":     txn.PointsUsed,
		"status":          txn.Status,
		"created_at":      txn.CreatedAt.Format(time.RFC3339),
		"expires_at":      txn.ExpiresAt.Format(time.RFC3339),
	}
	if txn.CouponID.Valid {
		resp["coupon_id"] = txn.CouponID.UUID
	}
	if txn.PaymentProofURL != "" {
		resp["payment_proof_url"] = txn.PaymentProofURL
	}
	if txn.RejectionReason != "" {
		resp["rejection_reason"] = txn.RejectionReason
	}
	if txn.PaidAt != nil {
		resp["paid_at"] = txn.PaidAt.Format(time.RFC3339)
	}
	if txn.ConfirmedAt != nil {
		resp["confirmed_at"] = txn.ConfirmedAt.Format(time.RFC3339)
	}
	if txn.RejectedAt != nil {
		resp["rejected_at"] = txn.RejectedAt.Format(time.RFC3339)
	}
	return resp
}

type checkoutRequest struct {
	UserID          uuid.UUID             `json:"user_id"`
	EventID         uuid.UUID             `json:"event_id"`
	TicketTierID    uuid.UUID             `json:"ticket_tier_id"`
	Quantity        int64                 `json:"quantity"`
	CouponCode      string                `json:"coupon_code"`
	RequestedPoints int64                 `json:"points"`
	Attendee        checkout.AttendeeInfo `json:"attendee"`
}

func (req checkoutRequest) toCreate() checkout.CreateRequest {
	return checkout.CreateRequest{
		UserID:          req.UserID,
		EventID:         req.EventID,
		TicketTierID:    req.TicketTierID,
		Quantity:        req.Quantity,
		CouponCode:      req.CouponCode,
		RequestedPoints: req.RequestedPoints,
		Attendee:        req.Attendee,
	}
}

func (h *Handlers) GetCoupon(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var amount int64
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid amount", http.StatusBadRequest)
			return
		}
		amount = parsed
	}

	c, err := h.resolver.Resolve(r.Context(), code, amount, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"code":           c.Code,
		"discount_type":  c.DiscountType,
		"discount_value": c.DiscountValue,
		"min_purchase":   c.MinPurchase,
		"max_discount":   c.MaxDiscount,
		"valid_until":    c.ValidUntil.Format(time.RFC3339),
	}
	if amount > 0 {
		calc := domain.CalculatePrice(amount, &c, 0, 0)
		resp["discount"] = calc.CouponDiscount
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetPointsBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

func (h *Handlers) CreditPoints(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount int64               `json:"amount"`
		Source domain.PointsSource `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.ledger.Earn(r.Context(), userID, req.Amount, req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         entry.ID,
		"user_id":    entry.UserID,
		"amount":     entry.Amount,
		"source":     entry.Source,
		"expires_at": entry.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handlers) Quote(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	calc, err := h.svc.Quote(r.Context(), req.toCreate())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

func (h *Handlers) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	claimed, err := h.idemp.Claim(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !claimed {
		http.Error(w, "request with this Idempotency-Key is in flight", http.StatusConflict)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.idemp.Release(r.Context(), key)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.Create(r.Context(), req.toCreate())
	if err != nil {
		h.idemp.Release(r.Context(), key)
		writeError(w, err)
		return
	}

	data := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"transaction": transactionResponse(res.Transaction),
		"breakdown":   res.Breakdown,
	})
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	txn, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse(txn))
}

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var filter crdb.TransactionFilter
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		filter.UserID = uuid.NullUUID{UUID: id, Valid: true}
	}
	if raw := r.URL.Query().Get("event_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid event_id", http.StatusBadRequest)
			return
		}
		filter.EventID = uuid.NullUUID{UUID: id, Valid: true}
	}

	txns, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]interface{}, 0, len(txns))
	for _, txn := range txns {
		items = append(items, transactionResponse(txn))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": items})
}

func (h *Handlers) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		Status          domain.TransactionStatus `json:"status"`
		PaymentProofURL string                   `json:"payment_proof_url"`
		RejectionReason string                   `json:"rejection_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	txn, err := h.svc.UpdateStatus(r.Context(), id, req.Status, checkout.StatusUpdate{
		PaymentProofURL: req.PaymentProofURL,
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse(txn))
}

func (h *Handlers) UploadPaymentProof(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		PaymentProofURL string `json:"payment_proof_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	txn, err := h.svc.UploadPaymentProof(r.Context(), id, req.PaymentProofURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse(txn))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
