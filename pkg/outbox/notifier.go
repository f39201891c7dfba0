package outbox

// Notifier shortens the relay's poll latency: writers signal after staging
// and the relay wakes without waiting for the next tick. Purely an
// optimization, the poll loop alone keeps delivery correct.
type Notifier interface {
	// Wake signals the relay. Never blocks, coalesces repeated signals.
	Wake()
	// C returns the channel the relay listens on.
	C() <-chan struct{}
}

type notifier struct {
	ch chan struct{}
}

func NewNotifier() Notifier {
	return &notifier{ch: make(chan struct{}, 1)}
}

func (n *notifier) Wake() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *notifier) C() <-chan struct{} {
	return n.ch
}
