package runtime

import (
	"io"
	"os"
)

type (
	PublisherOption func(*PublisherCtx)

	SubscriberOption func(*SubscriberCtx)
)

func WithPublisherTermination(ch chan os.Signal) PublisherOption {
	return func(ctx *PublisherCtx) {
		ctx.shutdownChannel = ch
	}
}

// WithPublisherInput replaces stdin as the source of JSON lines.
func WithPublisherInput(r io.Reader) PublisherOption {
	return func(ctx *PublisherCtx) {
		ctx.input = r
	}
}

func WithSubscriberTermination(ch chan os.Signal) SubscriberOption {
	return func(ctx *SubscriberCtx) {
		ctx.shutdownChannel = ch
	}
}
