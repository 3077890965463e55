package history

import (
	"context"
	"sync"
	"testing"

	"github.com/illmade-knight/go-blogflow/pkg/publish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRecorder_RecordsInOrder(t *testing.T) {
	recorder := NewInMemoryRecorder()
	ctx := context.Background()

	require.NoError(t, recorder.RecordArticle(ctx, &publish.ArticleRecord{ID: "a1", Status: publish.StatusPublished}))
	require.NoError(t, recorder.RecordArticle(ctx, &publish.ArticleRecord{ID: "a2", Status: publish.StatusFailed}))

	records := recorder.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "a1", records[0].ID)
	assert.Equal(t, "a2", records[1].ID)
}

func TestInMemoryRecorder_ConcurrentWrites(t *testing.T) {
	recorder := NewInMemoryRecorder()
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_ = recorder.RecordArticle(ctx, &publish.ArticleRecord{ID: "x"})
		}()
	}
	wg.Wait()

	assert.Len(t, recorder.Records(), writers)
}
