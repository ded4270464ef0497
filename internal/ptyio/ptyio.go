// Package ptyio exposes a pseudo-terminal whose master side is driven by
// background loops over ring buffers. The slave path (TTYName) can be opened by
// any serial tool; bytes it writes arrive through the read callback and bytes
// queued with Write are delivered to it.
//
// Both directions are non-blocking from the caller's side. When a ring is full
// the excess bytes are dropped and counted in Stats.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/surronlog/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrorCallback is invoked at most once per loop when a loop stops on an unexpected error
type ErrorCallback func(err error)

// ReadCallback receives bytes written by the slave side. It runs on a background
// goroutine and must not retain data.
type ReadCallback func(data []byte)

// Options configures a Port. Zero fields take the defaults from the struct tags.
type Options struct {
	ReadCap      int           `default:"4096"`
	WriteCap     int           `default:"4096"`
	PollInterval time.Duration `default:"50ms"`
	Logger       *logrus.Logger
	OnError      ErrorCallback
}

// Port is the master side of a pseudo-terminal pair
type Port interface {
	io.ReadWriteCloser
	Stats() Stats
	TTYName() string
	SetReadCallback(cb ReadCallback)
}

// Stats are runtime counters for the two rings
type Stats struct {
	WriteQueueLen int
	WriteQueueCap int
	ReadQueueLen  int
	ReadQueueCap  int

	DroppedWriteBytes uint64
	DroppedReadBytes  uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
}

const chunkSize = 4096

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type ringPort struct {
	logger   *logrus.Logger
	master   *os.File
	slave    *os.File
	ttyName  string
	poll     int
	onError  ErrorCallback
	errOnce  [2]sync.Once
	closed   atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	toSlave  *ringbuffer.RingBuffer
	fromTTY  *ringbuffer.RingBuffer
	callback atomic.Pointer[ReadCallback]
	notify   chan struct{}

	droppedWrite atomic.Uint64
	droppedRead  atomic.Uint64
	readBytes    atomic.Uint64
	writeBytes   atomic.Uint64
}

// Open creates a raw-mode pseudo-terminal pair and starts its I/O loops
func Open(opts Options) (Port, error) {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = discardLogger
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPort{
		logger:  opts.Logger,
		master:  master,
		slave:   slave,
		ttyName: slave.Name(),
		poll:    int(opts.PollInterval / time.Millisecond),
		onError: opts.OnError,
		ctx:     ctx,
		cancel:  cancel,
		toSlave: ringbuffer.New(opts.WriteCap),
		fromTTY: ringbuffer.New(opts.ReadCap),
		notify:  make(chan struct{}, 1),
	}
	if p.poll <= 0 {
		p.poll = 1
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "pty-write-loop", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "pty-dispatch", func(context.Context) { p.dispatchLoop() })

	p.logger.WithField("tty", p.ttyName).Debug("PTY opened")
	return p, nil
}

func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY: %w", err)
	}

	fail := func(step string, err error) (*os.File, *os.File, error) {
		return nil, nil, errors.Join(
			fmt.Errorf("failed to set %s on %s: %w", step, slave.Name(), err),
			master.Close(),
			slave.Close(),
		)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("raw mode", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("non-blocking mode", err)
	}
	return master, slave, nil
}

// reportLoopError forwards the first unexpected error of a loop to OnError
func (p *ringPort) reportLoopError(loop int, err error) {
	p.logger.WithField("error", err).Warn("PTY loop stopped")
	if p.onError == nil {
		return
	}
	p.errOnce[loop].Do(func() { p.onError(err) })
}

func (p *ringPort) readLoop() {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, chunkSize)

	for p.ctx.Err() == nil {
		ready, err := unix.Poll(fds, p.poll)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithField("error", err).Debug("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := p.master.Read(buf)
		if n > 0 {
			written, _ := p.fromTTY.Write(buf[:n])
			if written < n {
				p.droppedRead.Add(uint64(n - written))
				p.logger.WithField("dropped", n-written).Warn("PTY read ring full, dropping bytes")
			}
			p.readBytes.Add(uint64(written))
			if written > 0 {
				p.wake()
			}
		}

		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
			return
		case errors.Is(err, syscall.EIO):
			// no slave side open yet, or the last one just closed
			time.Sleep(time.Duration(p.poll) * time.Millisecond)
		default:
			p.reportLoopError(0, fmt.Errorf("pty read: %w", err))
			return
		}
	}
}

func (p *ringPort) writeLoop() {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, chunkSize)

	for p.ctx.Err() == nil {
		n, _ := p.toSlave.Read(buf)
		if n == 0 {
			time.Sleep(time.Duration(p.poll) * time.Millisecond)
			continue
		}

		for off := 0; off < n && p.ctx.Err() == nil; {
			written, err := p.master.Write(buf[off:n])
			off += written
			p.writeBytes.Add(uint64(written))

			switch {
			case err == nil, errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				_, _ = unix.Poll(fds, p.poll)
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.reportLoopError(1, fmt.Errorf("pty write: %w", err))
				return
			}
		}
	}
}

func (p *ringPort) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dispatchLoop hands buffered slave bytes to the read callback, if one is set
func (p *ringPort) dispatchLoop() {
	defer p.wg.Done()

	buf := make([]byte, chunkSize)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.notify:
		}

		for p.ctx.Err() == nil {
			cb := p.callback.Load()
			if cb == nil || *cb == nil {
				break
			}
			n, _ := p.fromTTY.Read(buf)
			if n == 0 {
				break
			}
			p.deliver(*cb, buf[:n])
		}
	}
}

func (p *ringPort) deliver(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.callback.Store(nil)
			p.reportLoopError(0, groutine.PanicError("pty read callback", r))
		}
	}()
	cb(data)
}

// Write queues data for the slave side. It never blocks; a short count means the
// write ring was full and the rest was dropped.
func (p *ringPort) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, _ := p.toSlave.Write(data)
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{
			"queued":  n,
			"dropped": len(data) - n,
		}).Warn("PTY write ring full, dropping bytes")
	}
	return n, nil
}

// Read drains buffered slave bytes without blocking. It returns syscall.EAGAIN
// when nothing is buffered. Bytes consumed by a read callback are not seen here.
func (p *ringPort) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}

	n, _ := p.fromTTY.Read(b)
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

// SetReadCallback installs cb, or removes the current one when cb is nil.
// Bytes buffered before the call are delivered to the new callback.
func (p *ringPort) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	if cb == nil {
		p.callback.Store(nil)
		return
	}
	p.callback.Store(&cb)
	p.wake()
}

// Close stops the loops and releases both ends. It is safe to call more than once.
func (p *ringPort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.cancel()
	err := errors.Join(p.master.Close(), p.slave.Close())

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-close-wait", func(context.Context) {
		p.wg.Wait()
		close(done)
	})

	wait := 20*time.Duration(p.poll)*time.Millisecond + time.Second
	select {
	case <-done:
	case <-time.After(wait):
		p.logger.WithFields(logrus.Fields{
			"tty":  p.ttyName,
			"wait": wait,
		}).Warn("PTY loops did not stop in time")
	}

	p.logger.WithField("tty", p.ttyName).Debug("PTY closed")
	return err
}

func (p *ringPort) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.toSlave.Length(),
		WriteQueueCap:     p.toSlave.Capacity(),
		ReadQueueLen:      p.fromTTY.Length(),
		ReadQueueCap:      p.fromTTY.Capacity(),
		DroppedWriteBytes: p.droppedWrite.Load(),
		DroppedReadBytes:  p.droppedRead.Load(),
		ReadBytesTotal:    p.readBytes.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
	}
}

func (p *ringPort) TTYName() string {
	return p.ttyName
}
