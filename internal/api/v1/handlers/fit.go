package handlers

import (
	"errors"
	"fmt"
	"strconv"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/multimessenger/nmmadb/internal/db/models"
	"github.com/multimessenger/nmmadb/internal/db/repos"
	"github.com/multimessenger/nmmadb/internal/services"
)

// FitHandler handles fit job endpoints
type FitHandler struct {
	fitService *services.FitJob
}

// NewFitHandler creates a new fit job handler
func NewFitHandler(fitService *services.FitJob) *FitHandler {
	return &FitHandler{
		fitService: fitService,
	}
}

// CreateFitParams defines the parameters for submitting a fit
type CreateFitParams struct {
	ModelName  string     `json:"model_name"`
	ObjectID   string     `json:"object_id"`
	Photometry [][]string `json:"photometry"`
}

// Validate validates the parameters for submitting a fit
func (p CreateFitParams) Validate() error {
	if p.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if p.ObjectID == "" {
		return fmt.Errorf("object_id is required")
	}
	if len(p.Photometry) == 0 {
		return fmt.Errorf("photometry is required")
	}
	return nil
}

// CreateFit handles submitting a new fit job
func (h *FitHandler) CreateFit(c *fiber.Ctx) error {
	var params CreateFitParams
	if err := c.BodyParser(&params); err != nil {
		return respondError(c, fiber.StatusBadRequest, ErrMsgInvalidReqBody)
	}

	if err := params.Validate(); err != nil {
		return respondError(c, fiber.StatusBadRequest, err.Error())
	}

	job, err := h.fitService.Enqueue(c.Context(), &models.FitPayload{
		ModelName:  params.ModelName,
		ObjectID:   params.ObjectID,
		Photometry: params.Photometry,
	})
	if err != nil {
		return respondFitError(c, err, ErrMsgFitCreateFailed)
	}

	return respondSuccess(c, fiber.StatusAccepted, "submitted", fiber.Map{
		"id":    job.ID,
		"state": job.State,
	})
}

// GetFit handles retrieving a fit job by ID, including its result once
// the fit has reached a terminal state
func (h *FitHandler) GetFit(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, ErrMsgInvalidJobID)
	}

	job, err := h.fitService.Get(c.Context(), id)
	if err != nil {
		return respondFitError(c, err, ErrMsgFitGetFailed)
	}

	return respondSuccess(c, fiber.StatusOK, "", job)
}

// ListFits handles listing fit jobs. With object_id and model_name
// query parameters it returns the latest fit for that pair instead.
func (h *FitHandler) ListFits(c *fiber.Ctx) error {
	objectID := c.Query("object_id")
	modelName := c.Query("model_name")
	if objectID != "" && modelName != "" {
		job, err := h.fitService.GetByObjectAndModel(c.Context(), objectID, modelName)
		if err != nil {
			return respondFitError(c, err, ErrMsgFitGetFailed)
		}
		if !job.State.Terminal() {
			return respondError(c, fiber.StatusBadRequest,
				fmt.Sprintf("Fit %s of %s still running...", modelName, objectID))
		}
		return respondSuccess(c, fiber.StatusOK,
			fmt.Sprintf("Retrieved fit %s of %s", modelName, objectID), job)
	}

	opts := &models.ListOptions{
		Limit:  models.DefaultLimit,
		Offset: c.QueryInt("offset", 0),
	}
	if limit := c.QueryInt("limit", 0); limit > 0 && limit <= models.DefaultLimit {
		opts.Limit = limit
	}
	if stateStr := c.Query("state"); stateStr != "" {
		state, err := models.ParseJobState(stateStr)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err.Error())
		}
		opts.State = &state
	}

	jobs, err := h.fitService.List(c.Context(), opts)
	if err != nil {
		return respondFitError(c, err, ErrMsgFitListFailed)
	}

	return respondSuccess(c, fiber.StatusOK, "", jobs)
}

// CancelFit handles cancelling a pending or claimed fit job
func (h *FitHandler) CancelFit(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, ErrMsgInvalidJobID)
	}

	if err := h.fitService.Cancel(c.Context(), id); err != nil {
		if errors.Is(err, repos.ErrInvalidTransition) {
			return respondError(c, fiber.StatusConflict, ErrMsgFitNotCancellable)
		}
		return respondFitError(c, err, ErrMsgFitCancelFailed)
	}

	return respondSuccess(c, fiber.StatusOK, "cancelled", nil)
}

func parseJobID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// respondFitError maps store errors onto HTTP statuses. Raw store
// errors are never surfaced to the caller.
func respondFitError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, repos.ErrNotFound):
		return respondError(c, fiber.StatusNotFound, ErrMsgFitNotFound)
	case errors.Is(err, repos.ErrStorageUnavailable):
		return respondError(c, fiber.StatusServiceUnavailable, fallback)
	default:
		return respondError(c, fiber.StatusInternalServerError, fmt.Sprintf("%s: %v", fallback, err))
	}
}
