package databases

import (
	"go.uber.org/zap"
)

func zapError(err error, msg string) {
	zap.S().With(err).Error(msg)
}
