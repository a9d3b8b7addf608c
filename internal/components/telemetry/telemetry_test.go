package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := NewRecorder()
	tel := NewScopedAPI("gateway", rec)

	tel.ReportBroken("gateway.put", errors.New("boom"), "landing")
	tel.ReportWarning("gateway.list", "bad key")
	tel.ReportCount("objects", 3)

	broken := rec.Find(KindBroken, "gateway.put")
	require.Len(t, broken, 1)
	require.Equal(t, "gateway: gateway.put", broken[0].ID)
	require.Len(t, broken[0].Params, 2)

	counts := rec.Find(KindCount, "objects")
	require.Len(t, counts, 1)
	require.EqualValues(t, 3, counts[0].Count)
}

func TestSetupWithoutEndpoints(t *testing.T) {
	tel, err := Setup(context.Background(), "test:telemetry", Config{})
	require.NoError(t, err)
	require.False(t, tel.Enabled())
	require.NoError(t, tel.Shutdown(context.Background()))
}
