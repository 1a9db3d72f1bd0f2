package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"memberbilling/internal/common"
	"memberbilling/internal/jobs"
	"memberbilling/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func httpError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, common.CreateErrorResponse(code, message, nil))
}

// mapServiceError translates service errors into HTTP errors with the common error body
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, services.ErrPlanNotFound):
		return httpError(http.StatusNotFound, "PLAN_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrSubscriptionNotFound):
		return httpError(http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrInvalidCoupon):
		return httpError(http.StatusUnprocessableEntity, "INVALID_COUPON", err.Error())
	case errors.Is(err, services.ErrInvalidPlan), errors.Is(err, services.ErrInvalidCadence):
		return httpError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, services.ErrPriceUnavailable):
		return httpError(http.StatusUnprocessableEntity, "PRICE_UNAVAILABLE", err.Error())
	case errors.Is(err, services.ErrPaymentDeclined):
		resp := common.CreateErrorResponse("PAYMENT_DECLINED", "Payment was declined", map[string]string{
			"reason": services.DeclineReason(err),
		})
		return echo.NewHTTPError(http.StatusPaymentRequired, resp)
	case errors.Is(err, services.ErrProcessorUnavailable):
		return httpError(http.StatusServiceUnavailable, "PROCESSOR_UNAVAILABLE", "Payment processor is unavailable, try again later")
	case errors.Is(err, services.ErrSubscriptionExists):
		return httpError(http.StatusConflict, "SUBSCRIPTION_EXISTS", err.Error())
	case errors.Is(err, services.ErrConcurrentModification), errors.Is(err, services.ErrAlreadyTerminal):
		return httpError(http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, jobs.ErrRunInProgress):
		return httpError(http.StatusConflict, "RUN_IN_PROGRESS", err.Error())
	}
	return httpError(http.StatusInternalServerError, "SERVER_ERROR", "Internal server error")
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := common.ValidateUUID(c.Param(name), name)
	if err != nil {
		return uuid.Nil, httpError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	}
	return id, nil
}

func principal(c echo.Context) (common.Principal, error) {
	p, ok := common.GetPrincipalFromContext(c.Request().Context())
	if !ok {
		return common.Principal{}, httpError(http.StatusUnauthorized, "UNAUTHORIZED", "User not authenticated")
	}
	return p, nil
}

func queryLimit(c echo.Context, def, max int) int {
	limit := def
	if raw := c.QueryParam("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
