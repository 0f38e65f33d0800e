package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drpcorg/roomsync/protocol"
	"github.com/drpcorg/roomsync/utils"
)

// Peer pumps one connection: a read loop that cuts inbound bytes into
// payloads for inout.Drain, and a write loop that writes whatever
// inout.Feed returns. Payloads reach Drain in arrival order.
type Peer struct {
	closed         atomic.Bool
	closeOnce      sync.Once
	wg             sync.WaitGroup
	writeBatchSize *utils.MovingAvg

	conn                net.Conn
	inout               protocol.FeedDrainCloserTraced
	incomingBuffer      atomic.Int32
	readAccumtTimeLimit time.Duration
	bufferMaxSize       int
	bufferMinToProcess  int
	writeTimeout        time.Duration
}

func (p *Peer) getReadTimeLimit() time.Duration {
	if p.readAccumtTimeLimit != 0 {
		return p.readAccumtTimeLimit
	}
	return READ_ACCUM_TIME_LIMIT
}

func (p *Peer) split(buf *bytes.Buffer) (protocol.Records, error) {
	if s, ok := p.inout.(Splitter); ok {
		return s.Split(buf)
	}
	return protocol.Split(buf)
}

// keepRead accumulates socket reads until bufferMinToProcess bytes or the
// read time limit, then hands complete payloads to a draining goroutine so
// the next batch is read while the previous one is processed.
func (p *Peer) keepRead(ctx context.Context) error {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	readChannel := make(chan protocol.Records)
	errChannel := make(chan error, 1)
	signal := make(chan struct{})
	defer close(readChannel)
	defer close(signal)
	go func() {
		for ctx.Err() == nil {
			_, ok := <-signal
			if !ok {
				return
			}
			recs, ok := <-readChannel
			if !ok {
				return
			}
			if len(recs) == 0 {
				continue
			}
			if err := p.inout.Drain(ctx, recs); err != nil {
				errChannel <- err
				return
			}
		}
	}()
	var timelimit *time.Time
	for !p.closed.Load() {
		select {
		case err := <-errChannel:
			return err
		default:
		}
		if buf.Len() <= p.bufferMaxSize {
			if buf.Available() < TYPICAL_MTU {
				buf.Grow(TYPICAL_MTU)
			}

			idle := buf.AvailableBuffer()[:buf.Available()]
			if timelimit == nil {
				t := time.Now().Add(p.getReadTimeLimit())
				timelimit = &t
			}
			p.conn.SetReadDeadline(*timelimit)
			if n, err := p.conn.Read(idle); err != nil {
				if !errors.Is(err, os.ErrDeadlineExceeded) {
					return err
				}
				time.Sleep(time.Millisecond)
			} else {
				buf.Write(idle[:n])
			}
		}
		p.incomingBuffer.Store(int32(buf.Len()))

		if (timelimit != nil && time.Now().After(*timelimit)) || buf.Len() >= p.bufferMinToProcess || buf.Len() >= p.bufferMaxSize {
			select {
			case signal <- struct{}{}:
				recs, err := p.split(&buf)
				if err != nil && !errors.Is(err, protocol.ErrIncomplete) {
					readChannel <- recs
					return err
				} else if errors.Is(err, protocol.ErrIncomplete) && buf.Len() >= p.bufferMaxSize {
					readChannel <- recs
					return errors.Join(err, fmt.Errorf("buffer is not enough to read packet"))
				}
				readChannel <- recs
				timelimit = nil
			case <-ctx.Done():
				return nil
			default:
				// still draining the previous batch, keep accumulating
			}
		}
	}

	return nil
}

func (p *Peer) GetTraceId() string {
	return p.inout.GetTraceId()
}

func (p *Peer) GetIncomingPacketBufferSize() int32 {
	return p.incomingBuffer.Load()
}

// keepWrite writes each batch from inout.Feed with one vectored write.
func (p *Peer) keepWrite(ctx context.Context) error {
	for !p.closed.Load() && ctx.Err() == nil {
		recs, err := p.inout.Feed(ctx)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			continue
		}
		p.writeBatchSize.Add(float64(protocol.Records(recs).TotalLen()))

		b := net.Buffers(recs)
		if p.writeTimeout != 0 {
			p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		}
		if _, err = b.WriteTo(p.conn); err != nil {
			return err
		}
	}

	return nil
}

// Keep runs both loops until one of them stops, then stops the other.
// A read EOF or a closed connection is a regular shutdown, not an error.
func (p *Peer) Keep(ctx context.Context) (rerr, werr, cerr error) {
	p.wg.Add(1)
	defer p.wg.Done()

	if p.closed.Load() {
		return nil, nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErrCh, writeErrCh := make(chan error, 1), make(chan error, 1)
	go func() { readErrCh <- p.keepRead(ctx) }()
	go func() { writeErrCh <- p.keepWrite(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case rerr = <-readErrCh:
			if errors.Is(rerr, net.ErrClosed) || errors.Is(rerr, io.EOF) {
				rerr = nil
			}
			cancel()
		case werr = <-writeErrCh:
			if errors.Is(werr, net.ErrClosed) {
				werr = nil
			}
			cancel()
		}
		if i == 0 {
			// unblocks the other loop; Close may have got there first
			if cerr = p.conn.Close(); errors.Is(cerr, net.ErrClosed) {
				cerr = nil
			}
		}
		p.closed.Store(true)
	}
	return
}

func (p *Peer) Close() {
	p.closed.Store(true)
	if p.conn != nil {
		p.conn.Close()
	}
	p.wg.Wait()
	p.closeOnce.Do(func() { p.inout.Close() })
}
