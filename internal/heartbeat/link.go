package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// link drives one established connection: it sends a beat every interval
// and feeds received frames into the monitor until the peer leaves or ctx
// ends.
type link struct {
	conn     net.Conn
	senderID uint32
	interval time.Duration
	seq      *atomic.Uint64
	monitor  *Monitor
	peer     *Cell
	log      *slog.Logger

	writeMu sync.Mutex
	lastSeq atomic.Uint64

	// rbuf holds a frame whose bytes span read deadlines; rlen of them are in.
	rbuf [FrameSize]byte
	rlen int
}

func (l *link) send(kind Kind) error {
	f := Frame{Kind: kind, SenderID: l.senderID, Seq: l.seq.Add(1), Timestamp: BootTime()}
	b := Encode(f)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.interval)); err != nil {
		return err
	}
	if _, err := l.conn.Write(b[:]); err != nil {
		return fmt.Errorf("write %s frame: %w", kind, err)
	}
	return nil
}

// read returns the next frame. Bytes of a frame cut short by the deadline
// are kept for the next call, so frame boundaries survive timeouts.
func (l *link) read(deadline time.Duration) (Frame, error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return Frame{}, err
	}
	for l.rlen < FrameSize {
		n, err := l.conn.Read(l.rbuf[l.rlen:])
		l.rlen += n
		if err != nil {
			if errors.Is(err, io.EOF) && l.rlen > 0 && l.rlen < FrameSize {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
	}
	l.rlen = 0
	return Decode(l.rbuf[:])
}

// handshake sends hello (when initiator) and waits for the peer's hello.
func (l *link) handshake(initiator bool) (Frame, error) {
	if initiator {
		if err := l.send(KindHello); err != nil {
			return Frame{}, err
		}
	}
	f, err := l.read(l.interval)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if f.Kind != KindHello {
		return Frame{}, fmt.Errorf("%w: first frame was %s", ErrHandshake, f.Kind)
	}
	if !initiator {
		if err := l.send(KindHello); err != nil {
			return Frame{}, err
		}
	}
	l.accept(f)
	l.monitor.Handshake()
	return f, nil
}

func (l *link) accept(f Frame) {
	l.lastSeq.Store(f.Seq)
	if l.peer != nil {
		l.peer.Publish(Record{ProcessID: int(f.SenderID), Timestamp: f.Timestamp})
	}
}

// run exchanges beats until the connection ends. It reports whether the
// peer left intentionally (bye). When ctx ends first, run returns with
// intentional=false and a nil error; the caller decides whether to say bye.
func (l *link) run(ctx context.Context) (intentional bool, err error) {
	stopBeats := make(chan struct{})
	beatsDone := make(chan struct{})
	go func() {
		defer close(beatsDone)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopBeats:
				return
			case <-ticker.C:
				if err := l.send(KindBeat); err != nil {
					l.log.Debug("send beat failed", "err", err)
					return
				}
			}
		}
	}()
	defer func() {
		close(stopBeats)
		<-beatsDone
	}()

	unblock := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Now())
	})
	defer unblock()

	for {
		f, err := l.read(l.interval)
		if ctx.Err() != nil {
			return false, nil
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return false, ErrConnectionLost
			}
			return false, fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		if last := l.lastSeq.Load(); f.Seq <= last {
			l.log.Debug("dropping out-of-order frame", "seq", f.Seq, "last_seq", last)
			continue
		}
		l.accept(f)
		switch f.Kind {
		case KindBeat:
			l.monitor.Beat()
		case KindBye:
			return true, nil
		case KindHello:
			l.log.Debug("duplicate hello ignored")
		}
	}
}
