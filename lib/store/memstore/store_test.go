package memstore

import (
	"testing"

	"github.com/scenesync/scenesync/lib/store"
	"github.com/scenesync/scenesync/lib/store/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.RunStoreTests(t, "memstore", func() store.Store { return New() })
}
