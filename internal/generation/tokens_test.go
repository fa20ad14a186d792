package generation

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTokens(t *testing.T) {
	prompt := tokensTotal.WithLabelValues("test_backend", "prompt")
	completion := tokensTotal.WithLabelValues("test_backend", "completion")
	beforePrompt := testutil.ToFloat64(prompt)
	beforeCompletion := testutil.ToFloat64(completion)

	recordTokens("test_backend", 120, 0)
	recordTokens("test_backend", 30, 45)

	assert.Equal(t, beforePrompt+150, testutil.ToFloat64(prompt))
	assert.Equal(t, beforeCompletion+45, testutil.ToFloat64(completion))
}
