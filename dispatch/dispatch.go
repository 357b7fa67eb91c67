package dispatch

import "context"

// Snapshot is what a send captured about its target session when it was
// committed. Completion is routed by it alone.
type Snapshot struct {
	SessionID  string
	ModelID    string
	ModelLabel string
}

// Dispatch is one committed send. Its result is readable once Done is closed.
type Dispatch struct {
	Snapshot Snapshot

	done  chan struct{}
	reply string
	err   error
}

func newDispatch(snap Snapshot) *Dispatch {
	return &Dispatch{Snapshot: snap, done: make(chan struct{})}
}

// Done is closed after the reply or error has been routed and the in-flight
// flag cleared.
func (d *Dispatch) Done() <-chan struct{} { return d.done }

// Err is the failure of the backend call, nil on success.
func (d *Dispatch) Err() error {
	<-d.done
	return d.err
}

// Reply is the backend reply text, empty on failure.
func (d *Dispatch) Reply() string {
	<-d.done
	return d.reply
}

// Wait blocks until the dispatch completes or ctx ends.
func (d *Dispatch) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
