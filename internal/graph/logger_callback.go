package graph

import (
	"context"

	"github.com/cloudwego/eino/callbacks"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

var nodeStages = map[string]consts.Stage{
	consts.NodeAnalysts:       consts.StageAnalysts,
	consts.NodeResearchDebate: consts.StageResearchDebate,
	consts.NodeTradePlan:      consts.StageTradePlan,
	consts.NodeRiskDebate:     consts.StageRiskDebate,
	consts.NodeFinalDecision:  consts.StageFinalDecision,
}

// ProgressFunc observes stage events. It is called from the orchestrating
// goroutine and must not block for long.
type ProgressFunc func(models.StageEvent)

// LoggerCallback logs node boundaries of the stage graph and forwards them
// as stage events.
type LoggerCallback struct {
	runID    string
	logger   *logging.Logger
	progress ProgressFunc
}

func NewLoggerCallback(runID string, logger *logging.Logger, progress ProgressFunc) callbacks.Handler {
	cb := &LoggerCallback{runID: runID, logger: logger, progress: progress}
	return callbacks.NewHandlerBuilder().
		OnStartFn(cb.OnStart).
		OnEndFn(cb.OnEnd).
		OnErrorFn(cb.OnError).
		Build()
}

func (cb *LoggerCallback) stage(info *callbacks.RunInfo) (consts.Stage, bool) {
	if info == nil {
		return "", false
	}
	st, ok := nodeStages[info.Name]
	return st, ok
}

func (cb *LoggerCallback) emit(stage consts.Stage, status models.StageStatus, detail string) {
	if cb.progress != nil {
		cb.progress(models.StageEvent{RunID: cb.runID, Stage: stage, Status: status, Detail: detail})
	}
}

func (cb *LoggerCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	stage, ok := cb.stage(info)
	if !ok {
		return ctx
	}
	cb.logger.WithStage(string(stage)).Info("stage started")
	cb.emit(stage, models.StageStarted, "")
	return ctx
}

func (cb *LoggerCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	stage, ok := cb.stage(info)
	if !ok {
		return ctx
	}
	detail := ""
	if rs, ok := output.(*runState); ok {
		detail = rs.summary(stage)
	}
	cb.logger.WithStage(string(stage)).Info("stage finished", "detail", detail)
	cb.emit(stage, models.StageFinished, detail)
	return ctx
}

func (cb *LoggerCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	stage, ok := cb.stage(info)
	if !ok {
		cb.logger.Error("stage graph failed", "error", err)
		return ctx
	}
	cb.logger.WithStage(string(stage)).Error("stage failed", "error", err)
	cb.emit(stage, models.StageFailed, err.Error())
	return ctx
}
