package flow

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "OpenFX-Ledger/internal/errors"
	"OpenFX-Ledger/internal/observability/metrics"
	"OpenFX-Ledger/pkg/logger"
)

// Step 表示协调器的进度节点。
type Step string

// 转账协调器的全部步骤，按执行顺序排列。
const (
	StepStart                     Step = "Start"
	StepInputsParsed              Step = "InputsParsed"
	StepLocalSideBuilt            Step = "LocalSideBuilt"
	StepCounterpartySideExchanged Step = "CounterpartySideExchanged"
	StepRateAttested              Step = "RateAttested"
	StepTransactionAssembled      Step = "TransactionAssembled"
	StepSignatureCollected        Step = "SignatureCollected"
	StepFinalized                 Step = "Finalized"
)

var (
	transferSteps = []Step{
		StepStart,
		StepInputsParsed,
		StepLocalSideBuilt,
		StepCounterpartySideExchanged,
		StepRateAttested,
		StepTransactionAssembled,
		StepSignatureCollected,
		StepFinalized,
	}
	// 创建与删除只有本方参与。
	localSteps = []Step{
		StepStart,
		StepInputsParsed,
		StepLocalSideBuilt,
		StepTransactionAssembled,
		StepSignatureCollected,
		StepFinalized,
	}
	responderSteps = []Step{
		StepStart,
		StepLocalSideBuilt,
		StepCounterpartySideExchanged,
		StepSignatureCollected,
		StepFinalized,
	}
)

// Tracker 记录一次协调器运行的进度，只允许按顺序前进。
type Tracker struct {
	flow    string
	runID   string
	steps   []Step
	pos     int
	started time.Time
	log     *slog.Logger
}

// NewTracker 创建一个位于第一个步骤的跟踪器。
func NewTracker(flow string, steps []Step) *Tracker {
	t := &Tracker{
		flow:    flow,
		runID:   uuid.NewString(),
		steps:   steps,
		started: time.Now(),
	}
	t.log = logger.Named("flow").With(slog.String("flow", flow), slog.String("run_id", t.runID))
	if len(steps) > 0 {
		t.enter(steps[0])
	}
	return t
}

// RunID 返回本次运行的唯一标识。
func (t *Tracker) RunID() string { return t.runID }

// Current 返回当前步骤。
func (t *Tracker) Current() Step {
	if len(t.steps) == 0 {
		return ""
	}
	return t.steps[t.pos]
}

// Advance 前进到 next，next 必须是紧随当前步骤的下一个步骤。
func (t *Tracker) Advance(next Step) error {
	if t.pos+1 >= len(t.steps) || t.steps[t.pos+1] != next {
		return xerrors.Newf(CodeInvalidStep, "cannot advance %s from %s to %s", t.flow, t.Current(), next)
	}
	t.pos++
	t.enter(next)
	return nil
}

// Done 报告是否已到达最后一个步骤。
func (t *Tracker) Done() bool {
	return len(t.steps) > 0 && t.pos == len(t.steps)-1
}

// Finish 记录运行结果与耗时。
func (t *Tracker) Finish(err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
		t.log.Warn("flow failed",
			slog.String("step", string(t.Current())),
			slog.String("code", outcome),
			slog.Any("error", err))
	}
	metrics.ObserveFlow(t.flow, outcome, time.Since(t.started))
}

func (t *Tracker) enter(step Step) {
	t.log.Debug("flow step", slog.String("step", string(step)))
	metrics.ObserveStep(t.flow, string(step))
}
