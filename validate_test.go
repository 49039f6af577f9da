package upload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigDefaultsPass(t *testing.T) {
	assert.NoError(t, ValidateConfig(DefaultConfig()))
}

func TestValidateConfigNilRejected(t *testing.T) {
	err := ValidateConfig(nil)
	assert.Error(t, err)
}

func TestValidateConfigAccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	cfg.NThreads = 0
	cfg.MinPartSize = 1

	err := ValidateConfig(cfg)
	var verrs ValidationErrors
	require := errors.As(err, &verrs)
	assert.True(t, require)
	assert.GreaterOrEqual(t, len(verrs), 3)
}
