package etcd

import (
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statestore/internal/storage"
	"statestore/internal/storage/storagetest"
)

// STATESTORE_TEST_ETCD holds a comma-separated endpoint list, e.g.
// http://127.0.0.1:2379.
func TestStore_Contract(t *testing.T) {
	endpoints := os.Getenv("STATESTORE_TEST_ETCD")
	if endpoints == "" {
		t.Skip("STATESTORE_TEST_ETCD not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := Open(Config{
			Endpoints: strings.Split(endpoints, ","),
			Prefix:    "/statestore-test/" + uuid.NewString() + "/",
		}, nil)
		require.NoError(t, err)
		return s
	})
}

func TestOpen_RequiresEndpoints(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.Error(t, err)
}
