package posindex

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/wegman-software/osmgeodb/internal/osmdata"
)

func TestSendReceiveOverPipe(t *testing.T) {
	entries := []Entry{
		{Kind: osmdata.KindDenseNodes, Offset: 0, ID: 5},
		{Kind: osmdata.KindWays, Offset: 1 << 33, ID: -12},
		{Kind: osmdata.KindDenseNodes, Offset: 77, ID: 1},
		{Kind: osmdata.KindDenseNodes, Offset: 78, ID: 3},
	}

	pr, pw := io.Pipe()
	ch := make(chan Entry)
	sendErr := make(chan error, 1)
	go func() {
		err := Send(context.Background(), pw, ch)
		pw.CloseWithError(err)
		sendErr <- err
	}()
	go func() {
		for _, e := range entries {
			ch <- e
		}
		close(ch)
	}()

	idx := New()
	n, err := Receive(pr, idx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(entries) {
		t.Errorf("received %d entries, want %d", n, len(entries))
	}

	want := []Entry{entries[1], entries[2], entries[3], entries[0]}
	if got := idx.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("index = %+v, want %+v", got, want)
	}
}

func TestDecodeAfterEndMarker(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(Entry{Kind: osmdata.KindWays, Offset: 9, ID: 9}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(&buf)
	if _, err := dec.Decode(); err != nil {
		t.Fatalf("first Decode: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := dec.Decode(); err != io.EOF {
			t.Errorf("Decode after end = %v, want io.EOF", err)
		}
	}
}

func TestReceiveTruncated(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.Encode(Entry{Kind: osmdata.KindDenseNodes, Offset: 1, ID: 1})
	enc.Encode(Entry{Kind: osmdata.KindDenseNodes, Offset: 2, ID: 2})
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"no end marker", full},
		{"cut inside record", full[:len(full)-2]},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Receive(bytes.NewReader(tt.data), New())
			if !errors.Is(err, ErrTruncated) {
				t.Errorf("err = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestReceiveCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"oversized record", []byte{0x7f}},
		{"bad kind", []byte{2, 0x08, 0x09, 0}},
		{"bad tag", []byte{1, 0x00, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Receive(bytes.NewReader(tt.data), New())
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestSendPipeError(t *testing.T) {
	pr, pw := io.Pipe()
	boom := errors.New("receiver gone")
	pr.CloseWithError(boom)

	ch := make(chan Entry, 1)
	ch <- Entry{ID: 1}
	close(ch)

	if err := Send(context.Background(), pw, ch); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestSendStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Entry)

	done := make(chan error, 1)
	go func() { done <- Send(ctx, io.Discard, ch) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancel")
	}
}
