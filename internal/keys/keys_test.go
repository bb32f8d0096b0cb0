package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys_For(t *testing.T) {
	q := For("docs")
	assert.Equal(t, "syncq:{docs}:items", q.Items)
	assert.Equal(t, "syncq:{docs}:pending", q.Pending)
	assert.Equal(t, "syncq:{docs}:processing", q.Processing)
	assert.Equal(t, "syncq:{docs}:failed", q.Failed)
	assert.Equal(t, "syncq:{docs}:seq", q.Seq)
	assert.Equal(t, "syncq:{docs}:state", q.State)
}

func TestKeys_Index(t *testing.T) {
	q := For("docs")
	assert.Equal(t, q.Pending, q.Index("pending"))
	assert.Equal(t, q.Processing, q.Index("processing"))
	assert.Equal(t, q.Failed, q.Index("failed"))
	assert.Empty(t, q.Index("completed"))
	assert.Equal(t, []string{q.Pending, q.Processing, q.Failed}, q.Indexes())
}
