package api

import (
	"context"
	"errors"

	"docintel/loader"
	"docintel/pipeline"
	"docintel/types"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Extractor interface {
	ExtractAndIndex(ctx context.Context, ref types.SourceRef) (string, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string) (*types.Answer, error)
}

type Ingester interface {
	Ingest(ctx context.Context, ref types.SourceRef) (string, error)
}

type JobRunner interface {
	Submit(ctx context.Context, kind types.JobKind, ref types.SourceRef, task loader.Task) (*types.Job, error)
	Get(ctx context.Context, id string) (*types.Job, error)
}

// RequestHandler serves the extract, ask and ingest routes.
type RequestHandler struct {
	extractor Extractor
	answerer  Answerer
	ingester  Ingester
	jobs      JobRunner
	bucket    string
	logger    *zap.Logger
}

type RequestHandlerParams struct {
	Extractor Extractor
	Answerer  Answerer
	Ingester  Ingester
	Jobs      JobRunner
	// Bucket resolves ingest keys.
	Bucket string
	Logger *zap.Logger
}

func NewRequestHandler(p RequestHandlerParams) *RequestHandler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestHandler{
		extractor: p.Extractor,
		answerer:  p.Answerer,
		ingester:  p.Ingester,
		jobs:      p.Jobs,
		bucket:    p.Bucket,
		logger:    logger,
	}
}

func (h *RequestHandler) HandleExtract(c *fiber.Ctx) error {
	var params types.ExtractParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}
	ref := types.SourceRef{Container: params.Bucket, ObjectKey: params.Key}

	if c.QueryBool("async") {
		return h.submit(c, types.JobExtract, ref, func(ctx context.Context) (map[string]string, error) {
			text, err := h.extractor.ExtractAndIndex(ctx, ref)
			if err != nil {
				return nil, err
			}
			return map[string]string{"text": text}, nil
		})
	}

	text, err := h.extractor.ExtractAndIndex(c.UserContext(), ref)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"text": text})
}

func (h *RequestHandler) HandleAsk(c *fiber.Ctx) error {
	var params types.AskParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	answer, err := h.answerer.Answer(c.UserContext(), params.Question)
	if errors.Is(err, types.ErrNoEvidence) {
		return c.JSON(insufficient())
	}
	if err != nil {
		return err
	}
	return c.JSON(answer)
}

func (h *RequestHandler) HandleIngest(c *fiber.Ctx) error {
	var params types.IngestParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return ErrMissingKey()
	}
	ref := types.SourceRef{Container: h.bucket, ObjectKey: params.Key}

	if c.QueryBool("async") {
		return h.submit(c, types.JobIngest, ref, func(ctx context.Context) (map[string]string, error) {
			id, err := h.ingester.Ingest(ctx, ref)
			if err != nil {
				return nil, err
			}
			return map[string]string{"knowledge_base_id": id}, nil
		})
	}

	id, err := h.ingester.Ingest(c.UserContext(), ref)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"knowledge_base_id": id})
}

func (h *RequestHandler) HandleJob(c *fiber.Ctx) error {
	if h.jobs == nil {
		return NewError(fiber.StatusNotFound, "background jobs are disabled")
	}
	job, err := h.jobs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (h *RequestHandler) submit(c *fiber.Ctx, kind types.JobKind, ref types.SourceRef, task loader.Task) error {
	if h.jobs == nil {
		return NewError(fiber.StatusBadRequest, "background jobs are disabled")
	}
	job, err := h.jobs.Submit(c.UserContext(), kind, ref, task)
	if err != nil {
		return err
	}
	h.logger.Info("job accepted", zap.String("job_id", job.ID), zap.String("kind", string(kind)))
	return c.Status(fiber.StatusAccepted).JSON(types.JobAccepted{JobID: job.ID, Status: job.Status})
}

// insufficient is the /ask body when retrieval found nothing.
func insufficient() *types.Answer {
	return &types.Answer{
		Text:     pipeline.InsufficientInformation,
		Sources:  []types.RetrievalHit{},
		Grounded: true,
		Overlap:  1,
		Code:     types.KindNoEvidence.String(),
	}
}
