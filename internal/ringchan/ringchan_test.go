package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceSendDropsOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 5; i++ {
		rc.ForceSend(i)
	}

	require.Equal(t, 3, rc.Len())
	var got []int
	for i := 0; i < 3; i++ {
		v, ok := rc.TryReceive()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got, "only the newest values MUST survive")

	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
	assert.Equal(t, int64(3), m.Processed)
}

func TestTrySendFull(t *testing.T) {
	rc := New[string](1)
	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "TrySend MUST fail on a full buffer")
	assert.Equal(t, 1, rc.Cap())
}

func TestSendAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.ForceSend(1)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() { rc.ForceSend(2) })
	assert.False(t, rc.TrySend(3))

	v, ok := <-rc.C()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = <-rc.C()
	assert.False(t, ok, "channel MUST be closed after draining")
}

func TestConcurrentProducers(t *testing.T) {
	rc := New[int](8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.ForceSend(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, rc.Len())
	assert.Equal(t, int64(400), rc.GetMetrics().Written)
}
