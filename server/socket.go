package server

// Socket is a connected, non-blocking stream socket.
type Socket interface {
	Fd() int

	// Read returns ErrWouldBlock once drained and io.EOF when the peer closed.
	Read(p []byte) (int, error)

	// Write may accept fewer bytes than given; it returns ErrWouldBlock when nothing fits.
	Write(p []byte) (int, error)

	PeerAddr() (addr string, port int, err error)

	Close() error
}

// listenSocket is a bound, listening, non-blocking socket.
type listenSocket interface {
	Fd() int

	// Accept returns ErrWouldBlock when no connection is pending.
	Accept() (Socket, error)

	Close() error
}
