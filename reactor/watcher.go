package reactor

// Watcher receives readiness callbacks for a single file descriptor.
// All callbacks are delivered on the goroutine running Loop.Run.
type Watcher interface {
	Fd() int

	// HandleReadable is called when the fd has input (or EOF) pending.
	HandleReadable()

	// HandleWritable is called when write interest is enabled and the fd accepts output.
	HandleWritable()

	// HandleHangup is called on EPOLLERR or EPOLLHUP with no input pending.
	HandleHangup()
}
