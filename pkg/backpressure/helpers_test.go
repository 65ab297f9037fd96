package backpressure

import (
	"errors"

	"go.uber.org/zap"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

var errBoom = errors.New("boom")
