package latestonlychannel

import (
	"testing"
	"time"
)

func TestWrapBlocksWhenEmpty(t *testing.T) {
	inputCh := make(chan string)
	outputCh := Wrap(inputCh)

	select {
	case <-outputCh:
		t.Fatalf("should have blocked")
	case <-time.After(10 * time.Millisecond):
	}

	close(inputCh)
}

func TestWrapDeliversEachValue(t *testing.T) {
	inputCh := make(chan string)
	outputCh := Wrap(inputCh)

	inputCh <- "info"
	if level := <-outputCh; level != "info" {
		t.Fatalf("unexpected level %q", level)
	}

	inputCh <- "debug"
	if level := <-outputCh; level != "debug" {
		t.Fatalf("unexpected level %q", level)
	}

	close(inputCh)

	if _, ok := <-outputCh; ok {
		t.Fatalf("output channel was not closed")
	}
}

func TestWrapCoalescesBursts(t *testing.T) {
	inputCh := make(chan string)
	outputCh := Wrap(inputCh)

	// a single save in an editor can fire several change events
	inputCh <- "info"
	inputCh <- "warn"
	inputCh <- "debug"
	if level := <-outputCh; level != "debug" {
		t.Fatalf("unexpected level %q", level)
	}

	select {
	case level := <-outputCh:
		t.Fatalf("unexpected extra value %q", level)
	case <-time.After(10 * time.Millisecond):
	}

	close(inputCh)
}
