package engine

import (
	"context"
	"fmt"
	"log"
	"os"
)

// OrderExecutor carries out a step's action once its conditions hold. Signing
// and broadcast live behind this interface; the engine only cares whether the
// action succeeded.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, pipeline *Pipeline, action Action) error
}

// LoggingExecutor writes every action to a logger instead of executing it.
// Notifications are delivered this way in production; swap orders only in
// dry-run deployments.
type LoggingExecutor struct {
	logger *log.Logger
}

// NewLoggingExecutor returns an executor that logs actions to stdout.
func NewLoggingExecutor() *LoggingExecutor {
	return &LoggingExecutor{logger: log.New(os.Stdout, "executor ", log.LstdFlags)}
}

func (e *LoggingExecutor) ExecuteOrder(_ context.Context, pipeline *Pipeline, action Action) error {
	switch action.Type {
	case ActionSwapOrder:
		e.logger.Printf("pipeline %s wallet %s: swap %s %s -> %s",
			pipeline.ID, pipeline.Wallet, action.Amount, action.InputToken, action.OutputToken)
	case ActionNotification:
		e.logger.Printf("pipeline %s user %s: %s", pipeline.ID, pipeline.UserID, action.Message)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
	return nil
}

// FailingExecutor rejects every order; used in tests to exercise the
// pipeline-failure path.
type FailingExecutor struct {
	Err error
}

func (e *FailingExecutor) ExecuteOrder(context.Context, *Pipeline, Action) error {
	if e.Err != nil {
		return e.Err
	}
	return fmt.Errorf("execution rejected")
}
