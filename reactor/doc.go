// Package reactor is a single-threaded epoll event loop.
//
// A Loop owns an epoll instance and an eventfd. Watchers are attached by
// file descriptor and get readiness callbacks on the goroutine that calls
// Run. Other goroutines hand work to the loop with Post; the eventfd wakes
// the loop so posted tasks run between epoll waits.
package reactor
