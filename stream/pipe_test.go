package stream

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pulselink/pulse/internal/testutil/testlog"
)

func TestPipeDelivery(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	if _, err := a.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestPipeWriterDoesNotBlock(t *testing.T) {
	testlog.Start(t)
	a, _ := Pipe()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			a.Write(make([]byte, 1024))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked on unread pipe")
	}
}

func TestPipeCloseUnblocksReader(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 1))
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	a.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected EOF, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after close")
	}
}

func TestPipeWriteAfterClose(t *testing.T) {
	testlog.Start(t)
	a, _ := Pipe()
	a.Close()
	if _, err := a.Write([]byte("x")); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected ErrClosedPipe, got %v", err)
	}
}

func TestPipeDrainsBufferedDataAfterClose(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	a.Write([]byte("tail"))
	a.Close()
	buf := make([]byte, 16)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "tail" {
		t.Fatalf("got %q", buf[:n])
	}
	if _, err := b.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after drain, got %v", err)
	}
}
