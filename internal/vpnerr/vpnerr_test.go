package vpnerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindInvalidParameter, "port %d out of range", 70000)
	assert.Equal(t, KindInvalidParameter, KindOf(err))
	assert.Contains(t, err.Error(), "invalid_parameter")
	assert.Contains(t, err.Error(), "70000")

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("operation not permitted")
	err := Wrap(KindPermissionDenied, cause, "open /dev/net/tun")

	assert.True(t, IsKind(err, KindPermissionDenied))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "open /dev/net/tun")

	assert.Nil(t, Wrap(KindTunnelFailed, nil, "nothing"))
}

func TestKindSurvivesOuterWrapping(t *testing.T) {
	inner := New(KindTunnelFailed, "device create rejected")
	outer := fmt.Errorf("establish tunnel: %w", inner)

	assert.Equal(t, KindTunnelFailed, KindOf(outer))
	assert.True(t, errors.Is(outer, &Error{Kind: KindTunnelFailed}))
	assert.False(t, errors.Is(outer, &Error{Kind: KindAuthFailed}))
}
