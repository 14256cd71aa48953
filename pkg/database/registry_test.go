package database

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/partition"
	"github.com/meridianhq/meridian-core/pkg/store"
	"github.com/meridianhq/meridian-core/pkg/store/memory"
)

func TestTableName(t *testing.T) {
	tests := []struct {
		family partition.Family
		want   string
	}{
		{partition.FamilyProject, "core_projects"},
		{partition.FamilyDocument, "core_documents"},
		{partition.FamilyChatSession, "core_chat_sessions"},
		{partition.FamilyChunk, "core_chunks"},
		{partition.FamilyKnowledgeArticle, "core_knowledge_articles"},
	}
	for _, tt := range tests {
		if got := TableName(tt.family); got != tt.want {
			t.Errorf("TableName(%s) = %q, want %q", tt.family, got, tt.want)
		}
	}
}

func TestRegistry_MemoizesHandles(t *testing.T) {
	var resolutions atomic.Int32
	r := NewRegistry(func(f partition.Family) (store.Container, error) {
		resolutions.Add(1)
		return memory.NewContainer(f), nil
	}, zap.NewNop())

	first, err := r.Container(partition.FamilyProject)
	require.NoError(t, err)
	second, err := r.Container(partition.FamilyProject)
	require.NoError(t, err)
	require.Same(t, first.(*memory.Container), second.(*memory.Container))
	require.Equal(t, int32(1), resolutions.Load())

	_, err = r.Container(partition.FamilyChunk)
	require.NoError(t, err)
	require.Equal(t, int32(2), resolutions.Load())
}

func TestRegistry_ConcurrentFirstUse(t *testing.T) {
	var resolutions atomic.Int32
	r := NewRegistry(func(f partition.Family) (store.Container, error) {
		resolutions.Add(1)
		return memory.NewContainer(f), nil
	}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Container(partition.FamilyDocument)
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), resolutions.Load(), "exactly one handle per family")
}

func TestRegistry_HealthCheck(t *testing.T) {
	r := NewRegistry(func(f partition.Family) (store.Container, error) {
		return memory.NewContainer(f), nil
	}, zap.NewNop())

	h := r.HealthCheck(context.Background())
	require.True(t, h.Healthy)
	require.Len(t, h.Families, len(partition.Families()))
	for f, fh := range h.Families {
		require.True(t, fh.Healthy, "family %s", f)
		require.Empty(t, fh.Error)
	}
}

func TestRegistry_HealthCheckCancelled(t *testing.T) {
	r := NewRegistry(func(f partition.Family) (store.Container, error) {
		return memory.NewContainer(f), nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := r.HealthCheck(ctx)
	require.False(t, h.Healthy)
}
