package client

// event wakes up a single waiting loop. Setting it while nobody waits is
// remembered, setting it again before anyone looked is not.
type event struct {
	ch chan struct{}
}

func newEvent() *event {
	return &event{ch: make(chan struct{}, 1)}
}

func (e *event) set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

func (e *event) wait() <-chan struct{} {
	return e.ch
}
