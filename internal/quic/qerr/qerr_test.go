package qerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/githubfollow/msquic/internal/quic/qerr"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	t.Run("without parent", func(t *testing.T) {
		t.Parallel()
		err := qerr.New(qerr.CodeRateLimited, "too many stateless ops")
		assert.Equal(t, "rate_limited: too many stateless ops", err.Error())
		assert.Equal(t, qerr.CodeRateLimited, err.Code())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("with parent", func(t *testing.T) {
		t.Parallel()
		parent := errors.New("socket closed")
		err := qerr.Wrap(qerr.CodeDatapathFailure, "create binding", parent)
		assert.Contains(t, err.Error(), "datapath_failure")
		assert.Contains(t, err.Error(), "socket closed")
		assert.Same(t, parent, err.Unwrap())
	})

	t.Run("formatted", func(t *testing.T) {
		t.Parallel()
		err := qerr.Newf(qerr.CodeProtocolViolation, "bad dcid length %d", 37)
		assert.Contains(t, err.Error(), "bad dcid length 37")
	})
}

func TestErrorIsByCode(t *testing.T) {
	t.Parallel()

	a := qerr.New(qerr.CodeRateLimited, "a")
	b := qerr.New(qerr.CodeRateLimited, "b")
	c := qerr.New(qerr.CodeOutOfMemory, "c")

	assert.True(t, errors.Is(a, b), "same code should compare equal via Is")
	assert.False(t, errors.Is(a, c), "different codes must not compare equal")
}

func TestHasCode(t *testing.T) {
	t.Parallel()

	inner := qerr.New(qerr.CodeCryptoFailure, "seal failed")
	outer := qerr.Wrap(qerr.CodeDatapathFailure, "send failed", inner)

	require.True(t, qerr.HasCode(outer, qerr.CodeDatapathFailure))
	require.True(t, qerr.HasCode(outer, qerr.CodeCryptoFailure))
	require.False(t, qerr.HasCode(outer, qerr.CodeRateLimited))
}
