package event

// Stream is a bounded single-consumer queue. Publish never blocks: when the
// buffer is full the oldest pending value is dropped.
type Stream[T any] struct {
	ch chan T
}

func NewStream[T any](capacity int) *Stream[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Stream[T]{ch: make(chan T, capacity)}
}

func (s *Stream[T]) Publish(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// C returns the receive side of the stream.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}
