package fanout_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hauvo5999/real-time-quiz/internal/fanout"
	"github.com/hauvo5999/real-time-quiz/internal/registry"
)

type recordingConn struct {
	mu       sync.Mutex
	payloads []string
}

func (c *recordingConn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(p))
	return nil
}

func (c *recordingConn) Close() {}

func (c *recordingConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func makeRedis(t *testing.T, addr string) redis.UniversalClient {
	t.Helper()

	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
	t.Cleanup(func() { rc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return rc
}

func TestChannel_PublishReachesLocalConns(t *testing.T) {
	t.Parallel()

	rs := miniredis.RunT(t)
	ctx := context.Background()

	reg := registry.New()
	ch := fanout.New(fanout.Config{
		Redis:    makeRedis(t, rs.Addr()),
		Registry: reg,
	})
	t.Cleanup(ch.Close)

	c1, c2 := &recordingConn{}, &recordingConn{}
	reg.Register("q1", c1)
	reg.Register("q1", c2)

	ch.Acquire(ctx, "q1")
	defer ch.Release("q1")

	require.NoError(t, ch.Publish(ctx, "q1", []byte(`{"n":1}`)))

	require.Eventually(t, func() bool {
		return len(c1.received()) == 1 && len(c2.received()) == 1
	}, 2*time.Second, 10*time.Millisecond, "both local connections should receive the message")

	require.Equal(t, []string{`{"n":1}`}, c1.received())
	require.Equal(t, []string{`{"n":1}`}, c2.received())
}

func TestChannel_CrossProcessDelivery(t *testing.T) {
	t.Parallel()

	rs := miniredis.RunT(t)
	ctx := context.Background()

	// Two channels on the same redis stand in for two serving processes.
	regA, regB := registry.New(), registry.New()
	chA := fanout.New(fanout.Config{Redis: makeRedis(t, rs.Addr()), Registry: regA})
	chB := fanout.New(fanout.Config{Redis: makeRedis(t, rs.Addr()), Registry: regB})
	t.Cleanup(chA.Close)
	t.Cleanup(chB.Close)

	alice, bob := &recordingConn{}, &recordingConn{}
	regA.Register("q1", alice)
	regB.Register("q1", bob)

	chA.Acquire(ctx, "q1")
	chB.Acquire(ctx, "q1")
	defer chA.Release("q1")
	defer chB.Release("q1")

	require.NoError(t, chA.Publish(ctx, "q1", []byte("update")))

	require.Eventually(t, func() bool {
		return len(bob.received()) == 1
	}, 2*time.Second, 10*time.Millisecond, "a publish on one process should reach connections on another")

	require.Eventually(t, func() bool {
		return len(alice.received()) == 1
	}, 2*time.Second, 10*time.Millisecond, "the publishing process should also deliver locally")
}

func TestChannel_SessionsAreIsolated(t *testing.T) {
	t.Parallel()

	rs := miniredis.RunT(t)
	ctx := context.Background()

	reg := registry.New()
	ch := fanout.New(fanout.Config{Redis: makeRedis(t, rs.Addr()), Registry: reg})
	t.Cleanup(ch.Close)

	c1, c2 := &recordingConn{}, &recordingConn{}
	reg.Register("q1", c1)
	reg.Register("q2", c2)

	ch.Acquire(ctx, "q1")
	ch.Acquire(ctx, "q2")
	defer ch.Release("q1")
	defer ch.Release("q2")

	require.NoError(t, ch.Publish(ctx, "q1", []byte("for-q1")))

	require.Eventually(t, func() bool {
		return len(c1.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Empty(t, c2.received(), "a q1 message must not reach q2 connections")
}

func TestChannel_ReleaseIsRefCounted(t *testing.T) {
	t.Parallel()

	rs := miniredis.RunT(t)
	ctx := context.Background()

	reg := registry.New()
	ch := fanout.New(fanout.Config{Redis: makeRedis(t, rs.Addr()), Registry: reg})
	t.Cleanup(ch.Close)

	c := &recordingConn{}
	reg.Register("q1", c)

	// Two local connections share one listener.
	ch.Acquire(ctx, "q1")
	ch.Acquire(ctx, "q1")

	ch.Release("q1")

	require.NoError(t, ch.Publish(ctx, "q1", []byte("still-listening")))
	require.Eventually(t, func() bool {
		return len(c.received()) == 1
	}, 2*time.Second, 10*time.Millisecond, "listener must survive while a reference remains")

	ch.Release("q1")

	// With the listener torn down, further publishes go nowhere locally.
	require.NoError(t, ch.Publish(ctx, "q1", []byte("dropped")))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"still-listening"}, c.received())
}
