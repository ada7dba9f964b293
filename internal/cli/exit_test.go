package cli

import (
	"errors"
	"fmt"
	"testing"

	"devstack/internal/config"
	"devstack/internal/descriptor"
	"devstack/internal/reconciler"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: ExitOK},
		{name: "descriptor missing", err: fmt.Errorf("load: %w", descriptor.ErrNotFound), want: ExitConfig},
		{name: "descriptor schema", err: descriptor.ErrSchema, want: ExitConfig},
		{name: "invalid config", err: fmt.Errorf("%w: bad", config.ErrInvalid), want: ExitConfig},
		{name: "usage", err: ErrUsage, want: ExitConfig},
		{name: "service failure", err: fmt.Errorf("start failed for 1 service(s): %w", reconciler.ErrDependencyFailed), want: ExitFailed},
		{name: "runtime", err: errors.New("docker daemon not reachable"), want: ExitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
