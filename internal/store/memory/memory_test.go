package memory

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"farm-automation/internal/store"
	"farm-automation/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{NewStore: func() store.Store { return New() }})
}
