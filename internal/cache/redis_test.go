package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRedis_Connects(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	InitRedis(mr.Addr())
	c := GetClient()
	require.NotNil(t, c)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestInitRedis_URLForm(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	InitRedis("redis://" + mr.Addr() + "/0")
	require.NotNil(t, GetClient())
	_ = GetClient().Close()
}

func TestInitRedis_UnreachableLeavesNil(t *testing.T) {
	InitRedis("redis://%zz")
	assert.Nil(t, GetClient())

	InitRedis("127.0.0.1:1")
	assert.Nil(t, GetClient())
}
