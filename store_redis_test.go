package syncq

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_List_ItemInTwoIndexes_ListedOnce(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	s := NewRedisStore(rdb)
	q := NewQueue(s)

	id, err := q.Enqueue(ctx, Mutation{Action: "a", Endpoint: "/x", Method: "POST"})
	require.NoError(t, err)
	require.NoError(t, q.MarkAsFailed(ctx, id, "boom"))
	// item caught between indexes by a concurrent reset
	require.NoError(t, rdb.ZAdd(ctx, s.keys.Pending, redis.Z{Score: 1, Member: id}).Err())

	items, err := q.GetEligible(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids(items))
}
