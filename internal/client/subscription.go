package client

import (
	"sync"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// subscription queues events without bound so the read loop never blocks on a
// slow consumer, and delivers them in order on ch.
type subscription struct {
	owner *Client
	ch    chan domain.DaemonEvent
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu    sync.Mutex
	queue []domain.DaemonEvent
}

func newSubscription(owner *Client) *subscription {
	s := &subscription{
		owner: owner,
		ch:    make(chan domain.DaemonEvent),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription) Events() <-chan domain.DaemonEvent {
	return s.ch
}

func (s *subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.owner.unsubscribe(s)
	})
}

func (s *subscription) push(ev domain.DaemonEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}
	}
}
