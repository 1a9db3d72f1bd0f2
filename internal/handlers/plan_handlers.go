package handlers

import (
	"net/http"

	"memberbilling/internal/services"

	"github.com/labstack/echo/v4"
)

type PlanHandlers struct {
	planService services.PlanService
}

func NewPlanHandlers(planService services.PlanService) *PlanHandlers {
	return &PlanHandlers{planService: planService}
}

type planResponse struct {
	Plan     any                `json:"plan"`
	Warnings []services.Warning `json:"warnings,omitempty"`
}

// ListPlans godoc
// @Summary List a community's active plans
// @Tags plans
// @Param communityID path string true "Community ID"
// @Success 200 {array} models.SubscriptionPlan
// @Router /v1/communities/{communityID}/plans [get]
func (h *PlanHandlers) ListPlans(c echo.Context) error {
	communityID, err := pathUUID(c, "communityID")
	if err != nil {
		return err
	}
	plans, err := h.planService.ListPlans(c.Request().Context(), communityID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, plans)
}

// CreatePlan godoc
// @Summary Create a plan
// @Tags plans
// @Param communityID path string true "Community ID"
// @Param plan body services.PlanInput true "Plan"
// @Success 201 {object} planResponse
// @Router /v1/communities/{communityID}/plans [post]
func (h *PlanHandlers) CreatePlan(c echo.Context) error {
	communityID, err := pathUUID(c, "communityID")
	if err != nil {
		return err
	}
	var input services.PlanInput
	if err := c.Bind(&input); err != nil {
		return httpError(http.StatusBadRequest, "CLIENT_ERROR", "Invalid request format")
	}

	plan, warnings, err := h.planService.CreatePlan(c.Request().Context(), communityID, input)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, planResponse{Plan: plan, Warnings: warnings})
}

func (h *PlanHandlers) GetPlan(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	plan, err := h.planService.GetPlan(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

// UpdatePlan godoc
// @Summary Edit a plan; live subscriptions keep their price
// @Tags plans
// @Param id path string true "Plan ID"
// @Param patch body services.PlanPatch true "Changes"
// @Success 200 {object} planResponse
// @Router /v1/plans/{id} [patch]
func (h *PlanHandlers) UpdatePlan(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var patch services.PlanPatch
	if err := c.Bind(&patch); err != nil {
		return httpError(http.StatusBadRequest, "CLIENT_ERROR", "Invalid request format")
	}

	plan, warnings, err := h.planService.UpdatePlan(c.Request().Context(), id, patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, planResponse{Plan: plan, Warnings: warnings})
}
