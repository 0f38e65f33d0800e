package protocol

import (
	"context"
	"io"
)

// Feeder yields outbound records of a link. Feed blocks until records are
// queued, the context ends or the link closes.
type Feeder interface {
	Feed(ctx context.Context) (recs Records, err error)
}

// Drainer consumes the inbound payloads of a link, in arrival order.
type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

type FeedDrainCloser interface {
	Feeder
	Drainer
	io.Closer
}

type Traced interface {
	GetTraceId() string
}

// FeedDrainCloserTraced is what a link handler hands to the transport.
type FeedDrainCloserTraced interface {
	FeedDrainCloser
	Traced
}
