package annotation

import (
	"context"
	"time"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Job statuses reported to JobMetrics and carried in JobCompleted events.
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusRetry     = "retry"
)

// eventSource identifies this service in event envelopes.
const eventSource = "bioannot-worker"

// JobMetrics records worker outcomes.
type JobMetrics interface {
	RecordJob(status string, duration time.Duration)
}

// JobCompleted is the payload of annotation.job.completed events.
type JobCompleted struct {
	DocumentID  string          `json:"document_id"`
	Status      string          `json:"status"`
	Result      *AnnotateResult `json:"result,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
}

// JobHandler consumes annotation.job.requested events.
type JobHandler struct {
	svc         Service
	publisher   kafka.Publisher
	resultTopic string
	timeout     time.Duration
	metrics     JobMetrics
	logger      logging.Logger
}

// JobHandlerOption configures a JobHandler.
type JobHandlerOption func(*JobHandler)

// WithJobTimeout bounds a single job.
func WithJobTimeout(d time.Duration) JobHandlerOption {
	return func(h *JobHandler) { h.timeout = d }
}

// WithJobMetrics records job outcomes on m.
func WithJobMetrics(m JobMetrics) JobHandlerOption {
	return func(h *JobHandler) { h.metrics = m }
}

// NewJobHandler creates a handler that answers on resultTopic.
func NewJobHandler(svc Service, publisher kafka.Publisher, resultTopic string, log logging.Logger, opts ...JobHandlerOption) *JobHandler {
	if resultTopic == "" {
		resultTopic = kafka.TopicJobCompleted
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	h := &JobHandler{
		svc:         svc,
		publisher:   publisher,
		resultTopic: resultTopic,
		logger:      log.Named("job_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle is a kafka.MessageHandler.  Retryable failures are returned without
// a completion event so the consumer retries; permanent failures publish a
// failed event and are returned so the message is dead-lettered.
func (h *JobHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	start := time.Now()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := decodeJob(msg)
	if err != nil {
		h.finish(ctx, string(msg.Key), nil, err, start)
		return err
	}

	res, err := h.svc.Annotate(ctx, req)
	return h.finish(ctx, req.DocumentID, res, err, start)
}

func decodeJob(msg *kafka.Message) (*DocumentRequest, error) {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return nil, err
	}
	if env.EventType != kafka.EventJobRequested {
		return nil, errors.New(errors.ErrCodeValidation, "unexpected event type").WithDetail(env.EventType)
	}
	var req DocumentRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, err
	}
	if req.DocumentID == "" {
		req.DocumentID = string(msg.Key)
	}
	if req.DocumentID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "job has no document id").WithDetail(env.EventID)
	}
	return &req, nil
}

func (h *JobHandler) finish(ctx context.Context, docID string, res *AnnotateResult, jobErr error, start time.Time) error {
	status := JobStatusCompleted
	switch {
	case jobErr == nil:
	case kafka.IsRetryable(jobErr):
		status = JobStatusRetry
	default:
		status = JobStatusFailed
	}
	if h.metrics != nil {
		h.metrics.RecordJob(status, time.Since(start))
	}
	if status == JobStatusRetry {
		h.logger.Warn("annotation job will be retried",
			logging.String("document_id", docID),
			logging.Code(jobErr),
			logging.Err(jobErr))
		return jobErr
	}

	payload := JobCompleted{DocumentID: docID, Status: status, Result: res}
	if jobErr != nil {
		payload.Result = nil
		payload.ErrorCode = string(errors.GetCode(jobErr))
		payload.ErrorDetail = jobErr.Error()
	}
	if err := h.emit(ctx, docID, payload); err != nil {
		if jobErr != nil {
			return jobErr
		}
		return err
	}
	if jobErr != nil {
		h.logger.Error("annotation job failed permanently",
			logging.String("document_id", docID),
			logging.Code(jobErr),
			logging.Err(jobErr))
		return jobErr
	}
	h.logger.Info("annotation job completed",
		logging.String("document_id", docID),
		logging.Int("annotations", len(res.Annotations)),
		logging.Int("warnings", len(res.Warnings)),
		logging.Duration("duration", time.Since(start)))
	return nil
}

func (h *JobHandler) emit(ctx context.Context, docID string, payload JobCompleted) error {
	eventType := kafka.EventJobCompleted
	if payload.Status == JobStatusFailed {
		eventType = kafka.EventJobFailed
	}
	env, err := kafka.NewEventEnvelope(eventType, eventSource, payload)
	if err != nil {
		return err
	}
	env.Metadata = map[string]string{"document_id": docID}
	msg, err := env.ToMessage(h.resultTopic, docID)
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, msg); err != nil {
		h.logger.Error("failed to publish job result",
			logging.String("document_id", docID),
			logging.String("topic", h.resultTopic),
			logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeExternalService, "publish job result").WithDetail(docID)
	}
	return nil
}
