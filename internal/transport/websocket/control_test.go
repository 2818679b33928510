package websocket

import (
	"errors"
	"testing"
	"time"
)

func TestReadControl_StopsWhenHandlerReturns(t *testing.T) {
	out := make(chan ClientFrame, 1)
	done := make(chan struct{})
	read := func() ([]byte, error) { return []byte(`{"type":"dump"}`), nil }

	exited := make(chan struct{})
	go func() {
		readControl(read, out, done)
		close(exited)
	}()

	// The first frame fills out; the reader then blocks on the second.
	select {
	case <-exited:
		t.Fatal("reader returned before done was closed")
	case <-time.After(50 * time.Millisecond):
	}
	close(done)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after done was closed")
	}
	if _, ok := <-out; !ok {
		t.Fatal("expected the buffered frame before close")
	}
	if _, ok := <-out; ok {
		t.Fatal("out should be closed")
	}
}

func TestReadControl_SkipsMalformedFrames(t *testing.T) {
	frames := [][]byte{[]byte("not json"), []byte(`{"type":"dump"}`)}
	read := func() ([]byte, error) {
		if len(frames) == 0 {
			return nil, errors.New("closed")
		}
		f := frames[0]
		frames = frames[1:]
		return f, nil
	}
	out := make(chan ClientFrame, 4)
	readControl(read, out, make(chan struct{}))

	var got []ClientFrame
	for cf := range out {
		got = append(got, cf)
	}
	if len(got) != 1 || got[0].Type != "dump" {
		t.Fatalf("frames = %+v, want one dump", got)
	}
}
