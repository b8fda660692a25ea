package ports

import "context"

// BackgroundProcessor runs until ctx is done or it is stopped.
type BackgroundProcessor interface {
	Start(ctx context.Context) error
}
