package handlers

import (
	"net/http"

	"memberbilling/internal/metrics"
	"memberbilling/internal/models"
	"memberbilling/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// SubscriptionHandlers handles HTTP requests for member subscriptions
type SubscriptionHandlers struct {
	subscriptionService services.SubscriptionService
	paymentService      services.PaymentService
	metrics             *metrics.Metrics
	log                 logrus.FieldLogger
}

// NewSubscriptionHandlers creates a new subscription handlers instance
func NewSubscriptionHandlers(subscriptionService services.SubscriptionService, paymentService services.PaymentService, m *metrics.Metrics, log logrus.FieldLogger) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		subscriptionService: subscriptionService,
		paymentService:      paymentService,
		metrics:             m,
		log:                 log,
	}
}

type createSubscriptionRequest struct {
	PlanID     string                `json:"plan_id"`
	Cadence    models.BillingCadence `json:"cadence"`
	CouponCode *string               `json:"coupon_code,omitempty"`
}

// CreateSubscription handles POST /v1/communities/:communityID/subscriptions
// @Summary Subscribe the caller to a plan
// @Tags subscriptions
// @Param communityID path string true "Community ID"
// @Param body body createSubscriptionRequest true "Subscription"
// @Success 201 {object} models.MemberSubscription
// @Failure 402 {object} common.ErrorResponse
// @Router /v1/communities/{communityID}/subscriptions [post]
func (h *SubscriptionHandlers) CreateSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	p, err := principal(c)
	if err != nil {
		return err
	}
	communityID, err := pathUUID(c, "communityID")
	if err != nil {
		return err
	}

	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return httpError(http.StatusBadRequest, "CLIENT_ERROR", "Invalid request format")
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		return httpError(http.StatusBadRequest, "VALIDATION_ERROR", "plan_id must be a valid UUID")
	}
	if req.Cadence == "" {
		req.Cadence = models.CadenceMonthly
	}

	sub, err := h.subscriptionService.Create(ctx, services.CreateSubscriptionInput{
		CommunityID: communityID,
		UserID:      p.UserID,
		PlanID:      planID,
		Cadence:     req.Cadence,
		CouponCode:  req.CouponCode,
	})
	if err != nil {
		if h.metrics != nil && services.DeclineReason(err) != "" {
			h.metrics.SubscriptionsCreated.WithLabelValues(string(models.StatusExpired)).Inc()
		}
		h.log.WithError(err).WithFields(logrus.Fields{
			"community_id": communityID,
			"user_id":      p.UserID,
			"plan_id":      planID,
		}).Warn("Subscription creation failed")
		return mapServiceError(err)
	}

	if h.metrics != nil {
		h.metrics.SubscriptionsCreated.WithLabelValues(string(sub.Status)).Inc()
	}
	return c.JSON(http.StatusCreated, sub)
}

// GetStatus handles GET /v1/communities/:communityID/subscription
func (h *SubscriptionHandlers) GetStatus(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	communityID, err := pathUUID(c, "communityID")
	if err != nil {
		return err
	}

	view, err := h.subscriptionService.GetStatus(c.Request().Context(), communityID, p.UserID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// HasActiveAccess handles GET /v1/communities/:communityID/access
func (h *SubscriptionHandlers) HasActiveAccess(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	communityID, err := pathUUID(c, "communityID")
	if err != nil {
		return err
	}

	ok, err := h.subscriptionService.HasActiveAccess(c.Request().Context(), communityID, p.UserID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"has_access": ok})
}

// CancelSubscription handles POST /v1/subscriptions/:id/cancel
func (h *SubscriptionHandlers) CancelSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	sub, err := h.ownedSubscription(c)
	if err != nil {
		return err
	}

	warnings, err := h.subscriptionService.Cancel(ctx, sub.ID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":         "Subscription cancelled",
		"subscription_id": sub.ID,
		"warnings":        warnings,
	})
}

// PaymentHistory handles GET /v1/subscriptions/:id/payments
func (h *SubscriptionHandlers) PaymentHistory(c echo.Context) error {
	sub, err := h.ownedSubscription(c)
	if err != nil {
		return err
	}

	payments, err := h.paymentService.History(c.Request().Context(), sub.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, payments)
}

// ownedSubscription loads the :id subscription and checks the caller owns it or is an admin.
// Other members' subscriptions are reported as not found.
func (h *SubscriptionHandlers) ownedSubscription(c echo.Context) (*models.MemberSubscription, error) {
	p, err := principal(c)
	if err != nil {
		return nil, err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return nil, err
	}

	sub, err := h.subscriptionService.Get(c.Request().Context(), id)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if sub.UserID != p.UserID && !p.IsAdmin() {
		return nil, mapServiceError(services.ErrSubscriptionNotFound)
	}
	return sub, nil
}
