package store_test

import (
	"testing"

	"github.com/DoyleJ11/pokeroster/internal/store"
	"github.com/DoyleJ11/pokeroster/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Tick(t)
	storetest.Run(t, store.NewMemory(), storetest.Sequence("mem"))
}
