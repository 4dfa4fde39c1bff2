package filer

import (
	"testing"

	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/objectstore"
	"github.com/poiesis-run/poiesis/pkg/store"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T) (Dependencies, *bus.MemoryBus) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })

	registry, err := objectstore.NewRegistry(config.Load())
	require.NoError(t, err)

	return Dependencies{Store: s, Bus: memBus, ObjectStore: registry, Config: config.Load()}, memBus
}
