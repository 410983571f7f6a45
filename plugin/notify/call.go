package notify

import "context"

// Call runs send, a provider call that takes no context, and returns when it
// finishes or ctx is done, whichever comes first. An abandoned send keeps
// running until its own client timeout.
func Call(ctx context.Context, send func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- send()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
