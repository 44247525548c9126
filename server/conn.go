package server

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/eapache/queue"
	"github.com/fzft/go-log-collector/log"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"io"
	"time"
)

const readChunkSize = 16 * 1024

// outChunk is one queued write; data shrinks as the kernel accepts bytes.
type outChunk struct {
	data []byte
}

// Conn is one accepted connection. It is registered in its listener's
// Registry from construction until Close.
type Conn struct {
	id         string
	sock       Socket
	loop       EventLoop
	conns      *Registry
	stats      *listenerMetrics
	remoteAddr string
	remotePort int

	idle          time.Duration // time since the last read event, advanced by the reaper
	writing       bool          // a write is in flight
	closing       bool          // close once the in-flight write completes
	closed        bool
	watchingWrite bool

	onConnect ConnectHandler
	onRead    DataHandler
	framing   uint64 // bumped by every OnData
	buffer    []byte // delimiter reassembly, nil without framing
	maxBuffer int
	pending   *queue.Queue
	readBuf   []byte
}

func newConn(l *Listener, sock Socket) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		sock:      sock,
		loop:      l.loop,
		conns:     l.conns,
		stats:     l.stats,
		onConnect: l.onConnect,
		maxBuffer: l.maxBuffer,
		pending:   queue.New(),
	}

	addr, port, err := sock.PeerAddr()
	if err != nil {
		log.Logger.Debug("peer address unavailable", zap.String("conn", c.id), zap.Error(err))
	} else {
		c.remoteAddr, c.remotePort = addr, port
	}

	c.conns.Add(c)
	c.stats.accepted.Inc()
	return c
}

// ID is a random identifier used in logs.
func (c *Conn) ID() string { return c.id }

// RemoteAddr is the peer IP, or "" when it could not be resolved.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// RemotePort is the peer port, or 0 when it could not be resolved.
func (c *Conn) RemotePort() int { return c.remotePort }

func (c *Conn) Idle() time.Duration { return c.idle }
func (c *Conn) Writing() bool       { return c.writing }
func (c *Conn) Closing() bool       { return c.closing }
func (c *Conn) Closed() bool        { return c.closed }

// Fd implements reactor.Watcher.
func (c *Conn) Fd() int { return c.sock.Fd() }

// OnConnect hands the connection to the listener's connect handler.
func (c *Conn) OnConnect() {
	if c.onConnect != nil {
		c.onConnect(c)
	}
}

// OnData sets how arrivals become messages. With an empty delimiter each
// arrival is passed through as is. Otherwise arrivals are buffered and
// callback gets every complete message without its delimiter, the same
// sequence however the stream was chunked.
//
// OnData may be called again from inside callback. Bytes already received
// after the current message then go to the new handler.
func (c *Conn) OnData(delimiter []byte, callback DataHandler) {
	c.framing++
	if len(delimiter) == 0 {
		c.buffer = nil
		c.onRead = func(data []byte) error {
			c.stats.messages.Inc()
			return callback(data)
		}
		return
	}

	gen := c.framing
	delim := bytes.Clone(delimiter)
	c.buffer = make([]byte, 0, readChunkSize)
	c.onRead = func(data []byte) error {
		// a delimiter can only end inside the new bytes
		from := max(0, len(c.buffer)-len(delim)+1)
		buf := append(c.buffer, data...)

		pos := 0
		for {
			i := bytes.Index(buf[from:], delim)
			if i < 0 {
				break
			}
			end := from + i
			msg := bytes.Clone(buf[pos:end])
			pos = end + len(delim)
			from = pos
			c.stats.messages.Inc()
			if err := callback(msg); err != nil {
				return err
			}
			if c.closed {
				return nil
			}
			if c.framing != gen {
				if rest := buf[pos:]; len(rest) > 0 && c.onRead != nil {
					return c.onRead(bytes.Clone(rest))
				}
				return nil
			}
		}

		// keep only the unterminated tail
		if pos > 0 {
			buf = buf[:copy(buf, buf[pos:])]
		}
		c.buffer = buf
		if c.maxBuffer > 0 && len(c.buffer) > c.maxBuffer {
			return fmt.Errorf("%w: %d bytes without delimiter", ErrBufferFull, len(c.buffer))
		}
		return nil
	}
}

// OnRead resets the idle time and runs the read path. A failing handler
// closes this connection and nothing else.
func (c *Conn) OnRead(data []byte) {
	c.idle = 0
	if c.onRead == nil {
		return
	}

	if err := c.onRead(data); err != nil {
		c.stats.readFailures.Inc()
		log.Logger.Warn("read handler failed, closing connection",
			zap.String("conn", c.id), zap.String("remote", c.remoteAddr), zap.Error(err))
		_ = c.Close()
	}
}

// HandleReadable drains the socket, feeding each chunk to OnRead.
func (c *Conn) HandleReadable() {
	if c.readBuf == nil {
		c.readBuf = make([]byte, readChunkSize)
	}

	for !c.closed {
		n, err := c.sock.Read(c.readBuf)
		if n > 0 {
			c.OnRead(bytes.Clone(c.readBuf[:n]))
		}
		if n == 0 && err == nil {
			err = io.EOF
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			if !errors.Is(err, io.EOF) {
				log.Logger.Debug("read error", zap.String("conn", c.id), zap.Error(err))
			}
			_ = c.Close()
			return
		}
	}
}

// HandleWritable continues a write the kernel could not take at once.
func (c *Conn) HandleWritable() {
	if c.closed {
		return
	}
	if err := c.flush(); err != nil {
		log.Logger.Debug("flush failed", zap.String("conn", c.id), zap.Error(err))
	}
}

// HandleHangup closes the connection after an error or hangup on the socket.
func (c *Conn) HandleHangup() {
	log.Logger.Debug("connection hangup", zap.String("conn", c.id))
	_ = c.Close()
}

// Write queues data and starts sending it. Writes issued while an earlier
// one is in flight are sent after it, in call order. Writing stays true
// until everything queued has reached the kernel.
func (c *Conn) Write(data []byte) error {
	if c.closed {
		return ErrConnClosed
	}
	if len(data) == 0 {
		return nil
	}

	c.writing = true
	c.pending.Add(&outChunk{data: bytes.Clone(data)})
	if c.pending.Length() > 1 {
		return nil
	}
	return c.flush()
}

// OnWriteComplete is called when the write queue drains.
func (c *Conn) OnWriteComplete() {
	c.writing = false
	if c.closing {
		_ = c.Close()
	}
}

// CloseAfterWrite closes now if nothing is in flight, otherwise as soon as the write completes.
func (c *Conn) CloseAfterWrite() error {
	if c.closed {
		return nil
	}
	if !c.writing {
		return c.Close()
	}
	c.closing = true
	return nil
}

// Close unregisters and closes the connection immediately, dropping queued output.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.writing = false
	c.watchingWrite = false
	c.pending = queue.New()
	c.conns.Remove(c)

	err := c.loop.Detach(c.sock.Fd())
	err = multierr.Append(err, c.sock.Close())
	c.stats.closed.Inc()

	log.Logger.Debug("connection closed", zap.String("conn", c.id), zap.String("remote", c.remoteAddr))
	return err
}

func (c *Conn) flush() error {
	for c.pending.Length() > 0 {
		head := c.pending.Peek().(*outChunk)
		n, err := c.sock.Write(head.data)
		if n > 0 {
			head.data = head.data[n:]
		}
		if err != nil && !errors.Is(err, ErrWouldBlock) {
			_ = c.Close()
			return fmt.Errorf("write conn %s: %w", c.id, err)
		}
		if len(head.data) > 0 {
			// kernel buffer is full, resume on EPOLLOUT
			return c.watchWrite(true)
		}
		c.pending.Remove()
	}

	if err := c.watchWrite(false); err != nil {
		return err
	}
	c.OnWriteComplete()
	return nil
}

func (c *Conn) watchWrite(enable bool) error {
	if c.watchingWrite == enable {
		return nil
	}
	if err := c.loop.WatchWrite(c, enable); err != nil {
		_ = c.Close()
		return fmt.Errorf("watch write conn %s: %w", c.id, err)
	}
	c.watchingWrite = enable
	return nil
}
