// internal/api/handlers.go
package api

import (
	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/common/logger"
	"loanflow/internal/models"
	"loanflow/internal/pipeline"
	"loanflow/internal/signing"
	"loanflow/internal/smartfields"
	"loanflow/internal/store"
	"loanflow/internal/webhook"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers binds the HTTP surface to the core services.
type Handlers struct {
	engine       *pipeline.Engine
	resolver     *pipeline.Resolver
	orchestrator *signing.Orchestrator
	webhooks     *webhook.Handler
	generator    *smartfields.Generator
	applications *store.ApplicationStore
	documents    *store.DocumentStore
	logger       logger.Logger
}

func NewHandlers(engine *pipeline.Engine, resolver *pipeline.Resolver, orchestrator *signing.Orchestrator, webhooks *webhook.Handler, generator *smartfields.Generator, applications *store.ApplicationStore, documents *store.DocumentStore, log logger.Logger) *Handlers {
	return &Handlers{
		engine:       engine,
		resolver:     resolver,
		orchestrator: orchestrator,
		webhooks:     webhooks,
		generator:    generator,
		applications: applications,
		documents:    documents,
		logger:       log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

type createApplicationRequest struct {
	RequestedAmount float64                    `json:"requestedAmount"`
	ProductCategory string                     `json:"productCategory"`
	FormData        models.ApplicationSnapshot `json:"formData"`
}

func (h *Handlers) CreateApplication(c *fiber.Ctx) error {
	var req createApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("request body is not valid JSON")
	}

	app := &models.Application{
		ID:              uuid.NewString(),
		Stage:           models.StageNew,
		RequestedAmount: req.RequestedAmount,
		ProductCategory: req.ProductCategory,
		Snapshot:        req.FormData,
	}
	if err := h.applications.Create(c.Context(), app); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(app)
}

func (h *Handlers) GetApplication(c *fiber.Ctx) error {
	app, err := h.applications.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(app)
}

// GetPipeline evaluates the suggested stage without applying it.
func (h *Handlers) GetPipeline(c *fiber.Ctx) error {
	eval, err := h.engine.Evaluate(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(eval)
}

// ApplyPipeline re-evaluates and persists the stage when it changed.
func (h *Handlers) ApplyPipeline(c *fiber.Ctx) error {
	eval, err := h.engine.Apply(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(eval)
}

func (h *Handlers) GetRequirements(c *fiber.Ctx) error {
	types := h.resolver.RequiredTypes(c.Context(), c.Params("id"))
	return c.JSON(fiber.Map{"requiredDocuments": types})
}

func (h *Handlers) SendToLender(c *fiber.Ctx) error {
	if err := h.engine.SendToLender(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

type lenderDecisionRequest struct {
	Accepted *bool `json:"accepted"`
}

func (h *Handlers) LenderDecision(c *fiber.Ctx) error {
	var req lenderDecisionRequest
	if err := c.BodyParser(&req); err != nil || req.Accepted == nil {
		return apperrors.NewValidationError("body must include an accepted boolean")
	}
	if err := h.engine.RecordLenderDecision(c.Context(), c.Params("id"), *req.Accepted); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *Handlers) BypassUpload(c *fiber.Ctx) error {
	if err := h.engine.BypassUpload(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

type overrideStageRequest struct {
	Stage string `json:"stage"`
	Actor string `json:"actor"`
}

func (h *Handlers) OverrideStage(c *fiber.Ctx) error {
	var req overrideStageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("request body is not valid JSON")
	}
	if err := h.engine.OverrideStage(c.Context(), c.Params("id"), models.Stage(req.Stage), req.Actor); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

type uploadDocumentRequest struct {
	DocumentType string `json:"documentType"`
	StorageRef   string `json:"storageRef"`
}

func (h *Handlers) UploadDocument(c *fiber.Ctx) error {
	var req uploadDocumentRequest
	if err := c.BodyParser(&req); err != nil || req.DocumentType == "" {
		return apperrors.NewValidationError("body must include a documentType")
	}

	doc, err := h.documents.Add(c.Context(), c.Params("id"), models.DocumentType(req.DocumentType), req.StorageRef)
	if err != nil {
		return err
	}
	// Uploads can advance new -> requires_docs immediately.
	if _, err := h.engine.Apply(c.Context(), c.Params("id")); err != nil {
		h.logger.WithError(err).Warn("stage re-evaluation after upload failed", map[string]interface{}{
			"applicationId": c.Params("id"),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

type reviewDocumentRequest struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
}

func (h *Handlers) ReviewDocument(c *fiber.Ctx) error {
	var req reviewDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("request body is not valid JSON")
	}
	status := models.DocumentStatus(req.Status)
	if status != models.DocStatusAccepted && status != models.DocStatusRejected {
		return apperrors.NewValidationError("status must be accepted or rejected")
	}

	if err := h.documents.SetStatus(c.Context(), c.Params("id"), status); err != nil {
		return err
	}
	if req.ApplicationID != "" {
		if _, err := h.engine.Apply(c.Context(), req.ApplicationID); err != nil {
			h.logger.WithError(err).Warn("stage re-evaluation after review failed", map[string]interface{}{
				"applicationId": req.ApplicationID,
			})
		}
	}
	return c.JSON(fiber.Map{"ok": true})
}

// GetSmartFields renders the signing field set for inspection.
func (h *Handlers) GetSmartFields(c *fiber.Ctx) error {
	app, err := h.applications.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	fields := h.generator.Generate(&app.Snapshot)
	validation := h.generator.Validate(&app.Snapshot)
	return c.JSON(fiber.Map{
		"fields":     fields,
		"validation": validation,
	})
}

// StartSigning queues a signing job. Replies 202: submission to the provider
// happens on the worker.
func (h *Handlers) StartSigning(c *fiber.Ctx) error {
	job, err := h.orchestrator.Start(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

func (h *Handlers) GetSigningJob(c *fiber.Ctx) error {
	job, err := h.orchestrator.Status(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (h *Handlers) CancelSigningJob(c *fiber.Ctx) error {
	if err := h.orchestrator.Cancel(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

// SigningWebhook receives provider callbacks. Anything persisted is
// acknowledged with 200 even when processing failed; the sweep retries.
func (h *Handlers) SigningWebhook(c *fiber.Ctx) error {
	result, err := h.webhooks.Receive(c.Context(), c.Body(), c.Get("X-Signature"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"ok":        true,
		"duplicate": result.Duplicate,
	})
}
