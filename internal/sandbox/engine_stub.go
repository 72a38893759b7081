//go:build !linux

package sandbox

import (
	"context"
	"errors"

	appErr "emc/pkg/errors"
)

type stubEngine struct{}

func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, rs RunSpec) (RunOutcome, error) {
	return RunOutcome{}, appErr.InfraError(errors.New("sandbox engine is only supported on linux"), "platform")
}

func (s *stubEngine) Kill(runID string) error {
	return errors.New("sandbox engine is only supported on linux")
}
