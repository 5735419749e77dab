package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv(EnvWorkerID, "auditor-2")
	assert.Equal(t, "auditor-2", GetID())
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv(EnvWorkerID, "")
	assert.NotEmpty(t, GetID())
}
