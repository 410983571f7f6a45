package notify

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCall(t *testing.T) {
	t.Run("returns send result", func(t *testing.T) {
		sendErr := errors.New("boom")
		assert.NoError(t, Call(context.Background(), func() error { return nil }))
		assert.Equal(t, sendErr, Call(context.Background(), func() error { return sendErr }))
	})

	t.Run("dead context skips send", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := Call(ctx, func() error { called = true; return nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("returns at deadline while send hangs", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := Call(ctx, func() error {
			<-release
			return nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}
