package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("connection refused")
	inner := Wrap(root, CodeTransport, "post failed")
	outer := Wrap(inner, CodeKeyfileOperation, "pseudonymize failed")

	assert.True(t, HasCode(outer, CodeKeyfileOperation))
	assert.True(t, HasCode(outer, CodeTransport))
	assert.False(t, HasCode(outer, CodeNotFound))
	assert.True(t, errors.Is(outer, root))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "should vanish"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "should %s", "vanish"))
}

func TestCodeOf(t *testing.T) {
	err := Wrap(New(CodeNotFound, "missing"), CodeKeyfileOperation, "op failed")
	assert.Equal(t, CodeKeyfileOperation, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("untyped")))
}

func TestErrorString(t *testing.T) {
	err := Wrap(New(CodeServer, "boom"), CodeKeyfileOperation, "reidentify failed")
	require.Contains(t, err.Error(), "reidentify failed")
	require.Contains(t, err.Error(), "boom")
}

func TestHasCodeThroughFmtWrap(t *testing.T) {
	// fmt.Errorf %w in between should not hide the code.
	err := fmt.Errorf("extra context: %w", New(CodeConflict, "duplicate"))
	assert.True(t, HasCode(err, CodeConflict))
}

func TestIsMatchesOnCode(t *testing.T) {
	err := Newf(CodeInvalidTemplate, "no template for %q", "StudyInstanceUID")
	assert.True(t, errors.Is(err, New(CodeInvalidTemplate, "")))
	assert.False(t, errors.Is(err, New(CodeConflict, "")))
}
