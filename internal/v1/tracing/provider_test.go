package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grpc.NewClient dials lazily, so InitTracer succeeds against an address
// that nothing is listening on; failures only surface once spans are
// actually exported, not at provider construction time.
func TestInitTracer_ConstructsProviderWithoutDialing(t *testing.T) {
	tp, err := InitTracer(context.Background(), "watchsync-core-test", "localhost:1")
	require.NoError(t, err)
	require.NotNil(t, tp)

	assert.NoError(t, tp.Shutdown(context.Background()))
}
