// Package feed provides market data sources that deliver model.Tick values
// to the signal pipeline: a WebSocket client, a CSV replayer and a fixed
// interval poller.
package feed

import (
	"context"

	"signal-engine/internal/model"
)

// Source streams ticks into out until ctx is cancelled or the source is
// exhausted. Recoverable problems (disconnects, unparseable messages) are
// reported on errs as *model.FeedError without stopping the source.
// Sends on errs never block.
type Source interface {
	Run(ctx context.Context, out chan<- model.Tick, errs chan<- error) error
}

func reportErr(errs chan<- error, err error) {
	if errs == nil {
		return
	}
	select {
	case errs <- err:
	default:
	}
}
