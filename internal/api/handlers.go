// internal/api/handlers.go
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/checkout"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

type checkoutRequest struct {
	Kind        payment.Kind     `json:"kind" binding:"required"`
	SubjectID   string           `json:"subject_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Method      payment.Method   `json:"method" binding:"required"`
	Provider    payment.Provider `json:"provider"`
	Phone       string           `json:"phone"`
	PayerName   string           `json:"payer_name"`
	PayerEmail  string           `json:"payer_email"`
	Description string           `json:"description"`
}

type breakdownResponse struct {
	Gross        string `json:"gross"`
	Fee          string `json:"fee"`
	Net          string `json:"net"`
	TotalCharged string `json:"total_charged"`
	FeeMode      string `json:"fee_mode"`
}

type paymentResponse struct {
	PaymentID   string            `json:"payment_id"`
	Status      payment.Status    `json:"status"`
	Breakdown   breakdownResponse `json:"breakdown"`
	Reference   string            `json:"reference,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Attempts    int               `json:"attempts"`
	Message     string            `json:"message"`
}

func toResponse(o *checkout.Outcome) paymentResponse {
	return paymentResponse{
		PaymentID: o.PaymentID.String(),
		Status:    o.Status,
		Breakdown: breakdownResponse{
			Gross:        o.Breakdown.Gross.StringFixed(2),
			Fee:          o.Breakdown.FeeAmount.StringFixed(2),
			Net:          o.Breakdown.Net.StringFixed(2),
			TotalCharged: o.Breakdown.TotalCharged.StringFixed(2),
			FeeMode:      string(o.Breakdown.Mode),
		},
		Reference:   o.Reference,
		RedirectURL: o.RedirectURL,
		Attempts:    o.Attempts,
		Message:     o.Message,
	}
}

// statusFor maps the error taxonomy to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, payment.ErrValidation), errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidPhoneNumber), errors.Is(err, payment.ErrInvalidFeePercentage),
		errors.Is(err, payment.ErrInvalidFeeMode):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrActiveConflict):
		return http.StatusConflict
	case errors.Is(err, payment.ErrGatewayRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, payment.ErrGatewayUnavailable), errors.Is(err, payment.ErrGatewayMisconfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrExpiredConfirmation):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	} else {
		s.logger.Warn("request rejected", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(code, gin.H{"message": checkout.UserMessage(err)})
}

func paymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": checkout.MsgNotFound})
		return uuid.Nil, false
	}
	return id, true
}

// handleCheckout starts a payment and returns once the gateway has the
// charge; confirmation continues in the background.
func (s *Server) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": checkout.MsgInvalidInput})
		return
	}
	out, err := s.checkout.Start(c.Request.Context(), checkout.Input{
		Kind:        req.Kind,
		OwnerID:     ownerID(c),
		SubjectID:   req.SubjectID,
		Amount:      req.Amount,
		Method:      req.Method,
		Provider:    req.Provider,
		Phone:       req.Phone,
		PayerName:   req.PayerName,
		PayerEmail:  req.PayerEmail,
		Description: req.Description,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toResponse(out))
}

// ownedPayment loads a payment for the caller. A payment owned by someone
// else reads as not found; anonymous donations are open to whoever holds
// the id.
func (s *Server) ownedPayment(c *gin.Context, id uuid.UUID) (*checkout.Outcome, bool) {
	out, err := s.checkout.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	if out.OwnerID != "" && out.OwnerID != ownerID(c) {
		s.fail(c, payment.ErrPaymentNotFound)
		return nil, false
	}
	return out, true
}

func (s *Server) handleGetPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	out, ok := s.ownedPayment(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(out))
}

// handlePaymentEvents streams progress as server-sent events until the
// payment is terminal or the client goes away.
func (s *Server) handlePaymentEvents(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	ch, unsubscribe := s.checkout.Progress().Subscribe(id)
	defer unsubscribe()

	current, ok := s.ownedPayment(c, id)
	if !ok {
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("status", toResponse(current))
	if current.Status.IsTerminal() {
		return
	}
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case p, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent("progress", p)
			return !p.Status.IsTerminal()
		}
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if _, ok := s.ownedPayment(c, id); !ok {
		return
	}
	stopped := s.checkout.Cancel(id)
	out, err := s.checkout.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := toResponse(out)
	if stopped {
		resp.Message = checkout.MsgCancelled
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleWebhook(p webhook.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "gateway not configured"})
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Cannot read request body"})
			return
		}
		out, err := s.webhooks.Dispatch(c.Request.Context(), p, body, c.Request.Header)
		switch {
		case err == nil:
		case errors.Is(err, webhook.ErrInvalidSignature):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid signature"})
			return
		case errors.Is(err, payment.ErrPaymentNotFound):
			// not ours; retrying will not help
			s.logger.Warn("webhook for unknown reference", slog.String("provider", p.Provider()), slog.Any("error", err))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		case errors.Is(err, payment.ErrValidation):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Malformed event"})
			return
		default:
			s.fail(c, err)
			return
		}
		if out == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		c.JSON(http.StatusOK, webhookResponse(out))
	}
}

func webhookResponse(out *reconciler.Outcome) gin.H {
	return gin.H{"status": "applied", "payment_id": out.PaymentID.String(), "payment_status": out.Status}
}
