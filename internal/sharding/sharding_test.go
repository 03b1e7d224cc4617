package sharding

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetShardIsStableAndInRange(t *testing.T) {
	r := NewShardRouter(3)
	seen := map[int]bool{}
	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("session-%d", i)
		shard := r.GetShard(key)
		assert.GreaterOrEqual(t, shard, 0)
		assert.Less(t, shard, 3)
		assert.Equal(t, shard, r.GetShard(key))
		seen[shard] = true
	}
	assert.Len(t, seen, 3)
}

func TestSingleShard(t *testing.T) {
	r := NewShardRouter(0)
	assert.Equal(t, 0, r.GetShard("anything"))
}
