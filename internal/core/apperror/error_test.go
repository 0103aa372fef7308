package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
		fatal     bool
		status    int
	}{
		{"claimed", NewIdentityAlreadyClaimed("FV-1"), CodeIdentityAlreadyClaimed, true, false, http.StatusConflict},
		{"posted", NewAlreadyPosted("FV-1", 7), CodeAlreadyPosted, false, false, http.StatusConflict},
		{"connection", NewConnectionUnavailable(errors.New("eof")), CodeConnectionUnavailable, true, false, http.StatusServiceUnavailable},
		{"ledger busy", NewLedgerBusy(errors.New("database is locked")), CodeLedgerBusy, true, false, http.StatusServiceUnavailable},
		{"critical", NewCriticalNumberingFailure("FV", "POS", 3), CodeCriticalNumberingFailure, false, true, http.StatusInternalServerError},
		{"halted", NewPipelineHalted("numbering"), CodePipelineHalted, false, true, http.StatusServiceUnavailable},
		{"write step", NewWriteStepFailure("line", 2, errors.New("x")), CodeWriteStepFailure, false, false, http.StatusUnprocessableEntity},
		{"foreign", errors.New("plain"), CodeInternal, false, false, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Equal(t, tt.status, GetHTTPStatus(tt.err))
		})
	}
}

func TestWrappedAppErrorKeepsCode(t *testing.T) {
	err := fmt.Errorf("post: %w", NewAlreadyPosted("FV-1042", 9))

	assert.True(t, Is(err, CodeAlreadyPosted))
	appErr, ok := AsAppError(err)
	assert.True(t, ok)
	assert.Equal(t, "FV-1042", appErr.Details["identity"])
}

func TestWriteStepFailureDetails(t *testing.T) {
	err := NewWriteStepFailure("totals", -1, errors.New("boom"))
	_, hasIndex := err.Details["index"]
	assert.False(t, hasIndex)
	assert.Equal(t, "totals", err.Details["step"])

	err = NewWriteStepFailure("payment", 1, errors.New("boom"))
	assert.Equal(t, 1, err.Details["index"])
}

func TestCodeOfNil(t *testing.T) {
	assert.Equal(t, "", CodeOf(nil))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsFatal(nil))
}
