package handlers

import (
	"errors"
	"io"
	"net/http"

	"memberbilling/internal/metrics"
	"memberbilling/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody caps the bytes read from one delivery
const maxWebhookBody = 65536

// WebhookHandlers handles processor webhook deliveries
type WebhookHandlers struct {
	subscriptionService services.SubscriptionService
	parser              services.WebhookParser
	metrics             *metrics.Metrics
	log                 logrus.FieldLogger
}

func NewWebhookHandlers(subscriptionService services.SubscriptionService, parser services.WebhookParser, m *metrics.Metrics, log logrus.FieldLogger) *WebhookHandlers {
	return &WebhookHandlers{
		subscriptionService: subscriptionService,
		parser:              parser,
		metrics:             m,
		log:                 log,
	}
}

func (h *WebhookHandlers) observe(eventType, result string) {
	if h.metrics != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
	}
}

// StripeWebhook handles POST /webhooks/stripe
func (h *WebhookHandlers) StripeWebhook(c echo.Context) error {
	if h.parser == nil {
		return httpError(http.StatusServiceUnavailable, "PROCESSOR_UNAVAILABLE", "Payment processor is not configured")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return httpError(http.StatusBadRequest, "CLIENT_ERROR", "Failed to read request body")
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if signature == "" {
		h.observe("unknown", "rejected")
		return httpError(http.StatusBadRequest, "CLIENT_ERROR", "Missing Stripe signature")
	}

	event, err := h.parser.ParseWebhook(body, signature)
	if err != nil {
		h.observe("unknown", "rejected")
		if errors.Is(err, services.ErrInvalidWebhook) {
			return httpError(http.StatusBadRequest, "INVALID_WEBHOOK", err.Error())
		}
		return mapServiceError(err)
	}
	if event == nil {
		h.observe("untracked", "ignored")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	log := h.log.WithFields(logrus.Fields{
		"event_id":                 event.ID,
		"event_type":               event.Type,
		"external_subscription_id": event.ExternalSubscriptionID,
	})
	if err := h.subscriptionService.ApplyProcessorEvent(c.Request().Context(), *event); err != nil {
		h.observe(string(event.Type), "error")
		log.WithError(err).Error("Failed to apply processor event")
		// non-2xx makes the processor redeliver
		return httpError(http.StatusInternalServerError, "SERVER_ERROR", "Failed to apply event")
	}

	h.observe(string(event.Type), "applied")
	log.Info("Processor event applied")
	return c.JSON(http.StatusOK, map[string]string{
		"status": "success",
		"event":  string(event.Type),
	})
}
