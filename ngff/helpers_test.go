package ngff

import (
	"testing"

	zarr "github.com/qri-io/ome-zarr-go"
	"github.com/stretchr/testify/require"
)

func mustAttrs(t *testing.T, doc string) zarr.Attributes {
	t.Helper()
	attrs, err := zarr.ParseAttributes([]byte(doc))
	require.NoError(t, err)
	return attrs
}
