package badgerdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"aether.dev/pkg/store"
	"aether.dev/pkg/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.I {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}
