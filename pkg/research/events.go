package research

import (
	"context"
	"iter"
)

// Events runs stage and yields the events it publishes on s, ending with
// an EventDone that carries the stage error. Breaking out of the loop
// cancels the stage and waits for it to return.
func Events(ctx context.Context, s *Session, stage func(context.Context) error) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		events := make(chan Event, 64)
		unsubscribe := s.Subscribe(func(e Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		})
		done := make(chan error, 1)
		go func() { done <- stage(ctx) }()

		stop := func() {
			cancel()
			unsubscribe()
			<-done
		}

		var err error
	wait:
		for {
			select {
			case e := <-events:
				if !yield(e, nil) {
					stop()
					return
				}
			case err = <-done:
				break wait
			}
		}
		unsubscribe()

		for {
			select {
			case e := <-events:
				if !yield(e, nil) {
					return
				}
			default:
				final := Event{Type: EventDone}
				if err != nil {
					final.Err = err.Error()
				}
				yield(final, err)
				return
			}
		}
	}
}
