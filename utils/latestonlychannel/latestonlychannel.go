// Package latestonlychannel coalesces bursts of updates so a slow consumer
// only ever sees the newest one.
package latestonlychannel

// Wrap returns a channel that yields values from inputCh, dropping any value
// superseded before the consumer received it.  Sends on inputCh never wait
// for the consumer.  The output closes once inputCh is closed and drained;
// a value still pending at that point is dropped.
func Wrap[T any](inputCh <-chan T) <-chan T {
	outputCh := make(chan T)

	go func() {
		defer close(outputCh)

		var pending T
		// sendCh is nil while nothing is pending, disabling that case
		var sendCh chan<- T

		for {
			select {
			case v, ok := <-inputCh:
				if !ok {
					return
				}
				pending = v
				sendCh = outputCh

			case sendCh <- pending:
				sendCh = nil
			}
		}
	}()

	return outputCh
}
