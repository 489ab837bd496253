package resilience

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
)

func TestDeadLetter_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"one below max", 2, 3, true},
		{"at max", 3, 3, false},
		{"no retries allowed", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DeadLetter{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			if got := e.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient", NewTransientError(errors.New("503"), 503), ErrorTypeTransient},
		{"wrapped transient", eris.Wrap(NewTransientError(errors.New("429"), 429), "resolve"), ErrorTypeTransient},
		{"permanent", errors.New("message has no phone"), ErrorTypePermanent},
		{"connection reset", errors.New("connection reset by peer"), ErrorTypeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}
