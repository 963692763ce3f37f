package groutine

import (
	"context"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesContextAndLabels(t *testing.T) {
	type result struct {
		name  string
		label string
	}
	got := make(chan result, 1)

	Go(nil, "worker-42", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		got <- result{name: GetName(ctx), label: label}
	})

	select {
	case r := <-got:
		assert.Equal(t, "worker-42", r.name)
		assert.Equal(t, "worker-42", r.label)
	case <-time.After(time.Second):
		require.Fail(t, "goroutine MUST run")
	}
}

func TestGo_PropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	Go(ctx, "waiter", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		require.Fail(t, "cancelling the parent MUST stop the goroutine")
	}
}

func TestGetName_Unnamed(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil))
}
