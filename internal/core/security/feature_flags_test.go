package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryFlags(t *testing.T) {
	ctx := context.Background()
	f := NewInMemoryFlags(map[string]bool{FlagReverseEnabled: true})

	assert.True(t, f.IsEnabled(ctx, FlagReverseEnabled))
	assert.False(t, f.IsEnabled(ctx, FlagReverseForce))

	assert.True(t, f.SetFlag(FlagReverseForce, true))
	assert.True(t, f.IsEnabled(ctx, FlagReverseForce))

	assert.False(t, f.SetFlag("unknown", true))
	assert.False(t, f.IsEnabled(ctx, "unknown"))

	assert.Equal(t, map[string]bool{FlagReverseEnabled: true, FlagReverseForce: true}, f.Snapshot())
}
