package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirper/feedsync/internal/logger"
)

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := NewRedisCacheFromAddr(mr.Addr())
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, rc.Ping(ctx))

	got := make(chan string, 1)
	stop, err := rc.Subscribe(ctx, "changes", logger.Discard(), func(b []byte) { got <- string(b) })
	require.NoError(t, err)

	require.NoError(t, rc.Publish(ctx, "changes", []byte(`{"c":["tweets"]}`)))
	select {
	case msg := <-got:
		assert.Equal(t, `{"c":["tweets"]}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	stop()
}
