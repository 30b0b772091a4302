package modem

import "sync"

// Dispatcher runs callbacks one at a time, in the order they were posted,
// on a single goroutine. Post never blocks, so a callback may safely post
// further work or issue new commands.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewDispatcher starts a dispatcher goroutine. Call Close to stop it.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Post queues fn for execution. Work posted after Close is dropped.
func (d *Dispatcher) Post(fn func()) {
	d.mu.Lock()
	select {
	case <-d.stop:
		d.mu.Unlock()
		return
	default:
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close stops the dispatcher after the callback currently running, if any.
// Queued callbacks that have not started are discarded. Close must not be
// called from a callback.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		close(d.stop)
		d.queue = nil
		d.mu.Unlock()
	})
	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			select {
			case <-d.stop:
				return
			default:
			}
			fn()
		}
	}
}
