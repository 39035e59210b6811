package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/service/order/domain/port"
	"orderpay/internal/tracing"
)

// 记录在 saga 日志里的状态
const (
	StatusStarted            = "STARTED"
	StatusStepDone           = "STEP_DONE"
	StatusStepFailed         = "STEP_FAILED"
	StatusAborted            = "ABORTED"
	StatusCompleted          = "COMPLETED"
	StatusCompensating       = "COMPENSATING"
	StatusCompensated        = "COMPENSATED"
	StatusCompensationFailed = "COMPENSATION_FAILED"
)

// Action 是 saga 中的一步
type Action func(ctx context.Context) error

// Compensation 在某一步失败后执行，failedStep 是失败的步骤名
type Compensation func(ctx context.Context, failedStep string, cause error) error

type step struct {
	name   string
	action Action
}

type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort 让 saga 在当前步骤停止并原样返回错误，不触发补偿。
// 用于"这一步本身说明请求不成立"的情况，例如并发下单重复支付。
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Result 描述一次执行的结局
type Result struct {
	SagaID         string
	CompletedSteps []string
	FailedStep     string
	Cause          error
	Compensated    bool
}

// Succeeded 表示所有步骤都已完成
func (r *Result) Succeeded() bool {
	return r.FailedStep == ""
}

// StepCompleted 判断某一步是否已成功执行
func (r *Result) StepCompleted(name string) bool {
	for _, s := range r.CompletedSteps {
		if s == name {
			return true
		}
	}
	return false
}

// Saga 按顺序执行步骤，第一步失败即停止并执行补偿 (后进先出)。
// 每次状态变化都会写入 SagaJournal，写入失败只记录日志。
type Saga struct {
	id      string
	orderID string
	journal port.SagaJournal
	tracer  trace.Tracer

	steps []step

	compensations []Compensation
	compLock      sync.Mutex
}

func New(orderID string, journal port.SagaJournal, tracer trace.Tracer) *Saga {
	return &Saga{
		id:      uuid.NewString(),
		orderID: orderID,
		journal: journal,
		tracer:  tracer,
	}
}

func (s *Saga) ID() string {
	return s.id
}

// AddStep 追加一个步骤，步骤按添加顺序执行
func (s *Saga) AddStep(name string, action Action) *Saga {
	s.steps = append(s.steps, step{name: name, action: action})
	return s
}

// AddCompensation 注册补偿逻辑，后注册的先执行
func (s *Saga) AddCompensation(comp Compensation) *Saga {
	s.compLock.Lock()
	defer s.compLock.Unlock()
	s.compensations = append([]Compensation{comp}, s.compensations...)
	return s
}

// Execute 运行 saga。
// 步骤失败且补偿成功时返回 (result, nil)；被 Abort 的步骤返回其原始错误；
// 补偿本身失败时返回补偿错误，此时系统状态需要人工介入。
func (s *Saga) Execute(ctx context.Context) (*Result, error) {
	result := &Result{SagaID: s.id}
	s.record(ctx, "", StatusStarted, "")

	for _, st := range s.steps {
		err := s.runStep(ctx, st)
		if err == nil {
			result.CompletedSteps = append(result.CompletedSteps, st.name)
			s.record(ctx, st.name, StatusStepDone, "")
			continue
		}

		result.FailedStep = st.name
		result.Cause = err

		var abort *abortError
		if errors.As(err, &abort) {
			result.Cause = abort.err
			s.record(ctx, st.name, StatusAborted, abort.err.Error())
			return result, abort.err
		}

		s.record(ctx, st.name, StatusStepFailed, err.Error())
		logger.Ctx(ctx).Error().Err(err).
			Str("saga", s.id).
			Str("order", s.orderID).
			Str("step", st.name).
			Msg("saga step failed, triggering compensation")

		if compErr := s.triggerCompensation(ctx, st.name, err); compErr != nil {
			s.record(ctx, st.name, StatusCompensationFailed, compErr.Error())
			return result, compErr
		}
		result.Compensated = true
		s.record(ctx, st.name, StatusCompensated, "")
		return result, nil
	}

	s.record(ctx, "", StatusCompleted, "")
	return result, nil
}

func (s *Saga) runStep(ctx context.Context, st step) error {
	ctx, span := s.tracer.Start(ctx, "saga."+st.name, trace.WithAttributes(
		attribute.String("saga.id", s.id),
		attribute.String("order.id", s.orderID),
	))
	defer span.End()

	if err := st.action(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, st.name+" failed")
		return err
	}
	return nil
}

func (s *Saga) triggerCompensation(ctx context.Context, failedStep string, cause error) error {
	s.compLock.Lock()
	defer s.compLock.Unlock()

	s.record(ctx, failedStep, StatusCompensating, "")
	ctx, span := s.tracer.Start(ctx, "saga.compensate", trace.WithAttributes(
		attribute.String("saga.id", s.id),
		attribute.String("saga.failed_step", failedStep),
	))
	defer span.End()

	logger.Ctx(ctx).Info().Str("order", s.orderID).Int("count", len(s.compensations)).Msg("Executing compensation functions.")
	for _, comp := range s.compensations {
		if err := comp(ctx, failedStep, cause); err != nil {
			span.RecordError(err, trace.WithAttributes(attribute.Bool("critical.error", true)))
			span.SetStatus(codes.Error, "compensation failed")
			return err
		}
	}
	return nil
}

func (s *Saga) record(ctx context.Context, stepName, status, detail string) {
	if s.journal == nil {
		return
	}
	rec := port.SagaRecord{
		SagaID:    s.id,
		OrderID:   s.orderID,
		Step:      stepName,
		Status:    status,
		Detail:    detail,
		TraceID:   tracing.TraceIDFromContext(ctx),
		SpanID:    tracing.SpanIDFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.journal.Append(ctx, rec); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("saga", s.id).Str("status", status).Msg("failed to append saga log")
	}
}
