package runtime

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestMemoryChannelRendezvousSendReceive(t *testing.T) {
	err := RunVoid(func(ctx context.Context) error {
		send, recv := OpenMemoryChannel[int](0)
		var got int
		nerr := OpenNursery(ctx, func(ctx context.Context, n *Nursery) error {
			n.StartSoon(ctx, func(ctx context.Context) error {
				return send.Send(ctx, 7)
			}, "sender")
			n.StartSoon(ctx, func(ctx context.Context) error {
				v, rerr := recv.Receive(ctx)
				got = v
				return rerr
			}, "receiver")
			return nil
		})
		if nerr != nil {
			return nerr
		}
		if got != 7 {
			t.Fatalf("got %d, want 7", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryChannelBuffered(t *testing.T) {
	err := RunVoid(func(ctx context.Context) error {
		send, recv := OpenMemoryChannel[string](2)
		if terr := send.TrySend("a"); terr != nil {
			t.Fatalf("TrySend a: %v", terr)
		}
		if terr := send.TrySend("b"); terr != nil {
			t.Fatalf("TrySend b: %v", terr)
		}
		if terr := send.TrySend("c"); !errors.As(terr, new(WouldBlockError)) {
			t.Fatalf("expected WouldBlockError on full buffer, got %v", terr)
		}
		v, rerr := recv.TryReceive()
		if rerr != nil || v != "a" {
			t.Fatalf("got (%q, %v), want (a, nil)", v, rerr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryChannelClosesOnLastSender(t *testing.T) {
	err := RunVoid(func(ctx context.Context) error {
		send, recv := OpenMemoryChannel[int](0)
		var recvErr error
		nerr := OpenNursery(ctx, func(ctx context.Context, n *Nursery) error {
			n.StartSoon(ctx, func(ctx context.Context) error {
				_, recvErr = recv.Receive(ctx)
				return nil
			}, "receiver")
			n.StartSoon(ctx, func(ctx context.Context) error {
				return send.Close(ctx)
			}, "closer")
			return nil
		})
		if nerr != nil {
			return nerr
		}
		if !errors.As(recvErr, new(EndOfChannelError)) {
			t.Fatalf("expected EndOfChannelError, got %v", recvErr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryChannelBrokenOnLastReceiverClose(t *testing.T) {
	err := RunVoid(func(ctx context.Context) error {
		send, recv := OpenMemoryChannel[int](0)
		var sendErr error
		nerr := OpenNursery(ctx, func(ctx context.Context, n *Nursery) error {
			n.StartSoon(ctx, func(ctx context.Context) error {
				sendErr = send.Send(ctx, 1)
				return nil
			}, "sender")
			n.StartSoon(ctx, func(ctx context.Context) error {
				return recv.Close(ctx)
			}, "closer")
			return nil
		})
		if nerr != nil {
			return nerr
		}
		if !errors.As(sendErr, new(BrokenResourceError)) {
			t.Fatalf("expected BrokenResourceError, got %v", sendErr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryChannelUnboundedAcceptsImmediately(t *testing.T) {
	err := RunVoid(func(ctx context.Context) error {
		send, _ := OpenMemoryChannel[int](math.Inf(1))
		for i := 0; i < 1000; i++ {
			if terr := send.TrySend(i); terr != nil {
				t.Fatalf("TrySend(%d): %v", i, terr)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryChannelRejectsFractionalBufferSize(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic for a fractional buffer size")
		}
		if _, ok := r.(*RuntimeError); !ok {
			t.Fatalf("expected *RuntimeError panic, got %T", r)
		}
	}()
	OpenMemoryChannel[int](1.5)
}
