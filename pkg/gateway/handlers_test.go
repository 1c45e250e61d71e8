package gateway

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/protocol"
)

func TestWrapErrorCarriesRequestID(t *testing.T) {
	h := &RequestHandler{log: slog.Default()}

	msg, werr := h.wrap("req-7", nil, errors.New("marshal exploded"))
	require.Nil(t, msg)
	require.NotNil(t, werr)
	assert.Equal(t, protocol.ErrCodeInternal, werr.Code)
	assert.Equal(t, "req-7", werr.RequestID, "error must correlate to the request")

	ok := &protocol.Message{}
	msg, werr = h.wrap("req-7", ok, nil)
	assert.Same(t, ok, msg)
	assert.Nil(t, werr)
}
