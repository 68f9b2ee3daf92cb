package watch

import "fmt"

// SendError is returned by Sender.Broadcast when no receivers remain (the
// shared state's weak-upgrade has already failed), carrying the value that
// could not be delivered back to the caller, mirroring tokio's
// watch::error::SendError<T> (original_source/tokio/src/sync/watch.rs).
type SendError[T any] struct {
	Value T
}

func (e *SendError[T]) Error() string {
	return fmt.Sprintf("watch: send on channel with no receivers: %v", e.Value)
}
