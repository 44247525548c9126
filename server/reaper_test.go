package server

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestReaperAdvancesIdlePerTick(t *testing.T) {
	l, loop := newTestListener(0)
	c := accept(l, loop, &TestSocket{fd: 10})

	for i := 1; i <= 3; i++ {
		l.reaper.Tick()
		assert.Equal(t, time.Duration(i)*KeepaliveCheckInterval, c.Idle())
	}

	c.OnRead([]byte("x"))
	assert.Equal(t, time.Duration(0), c.Idle())
	l.reaper.Tick()
	assert.Equal(t, KeepaliveCheckInterval, c.Idle())
}

func TestReaperEvictsOnSeventhTickForFiveSecondKeepalive(t *testing.T) {
	l, loop := newTestListener(5 * time.Second)
	sock := &TestSocket{fd: 10}
	c := accept(l, loop, sock)

	for i := 0; i < 6; i++ {
		l.reaper.Tick()
	}
	// idle is checked before it advances: after six ticks it is 6s, past
	// the keepalive, and only the seventh sweep closes the connection
	assert.Equal(t, 6*time.Second, c.Idle())
	assert.True(t, l.conns.Has(c))

	l.reaper.Tick()
	assert.True(t, c.Closed())
	assert.False(t, l.conns.Has(c))
	assert.Equal(t, 1, sock.closeCount)
	assert.Equal(t, uint64(1), l.stats.evicted.Get())
}

func TestReaperKeepsActiveConnections(t *testing.T) {
	l, loop := newTestListener(2 * time.Second)
	c := accept(l, loop, &TestSocket{fd: 10})
	c.OnData(nil, func([]byte) error { return nil })

	for i := 0; i < 10; i++ {
		l.reaper.Tick()
		c.OnRead([]byte("heartbeat"))
	}
	assert.False(t, c.Closed())
}

func TestReaperNeverEvictsWhileWriting(t *testing.T) {
	l, loop := newTestListener(time.Second)
	sock := &TestSocket{fd: 10, blocked: true}
	c := accept(l, loop, sock)

	require.NoError(t, c.Write([]byte("slow consumer")))
	require.NoError(t, c.CloseAfterWrite())

	for i := 0; i < 100; i++ {
		l.reaper.Tick()
	}
	assert.False(t, c.Closed())
	assert.True(t, l.conns.Has(c))
	assert.Equal(t, 100*time.Second, c.Idle())

	sock.blocked = false
	c.HandleWritable()
	assert.True(t, c.Closed(), "deferred close happens once the write completes")
	assert.False(t, l.conns.Has(c))
}

func TestReaperInfiniteKeepalive(t *testing.T) {
	l, loop := newTestListener(0)
	c := accept(l, loop, &TestSocket{fd: 10})

	for i := 0; i < 10000; i++ {
		l.reaper.Tick()
	}
	assert.False(t, c.Closed())
	assert.Equal(t, 10000*time.Second, c.Idle())
}

func TestReaperDropsClosedConnections(t *testing.T) {
	l, loop := newTestListener(0)
	sock := &TestSocket{fd: 10}
	c := accept(l, loop, sock)

	// closed underneath the registry, e.g. by the socket layer
	c.closed = true
	l.reaper.Tick()

	assert.False(t, l.conns.Has(c))
	assert.Equal(t, 0, sock.closeCount, "nothing else to do for a closed connection")
	assert.Equal(t, time.Duration(0), c.Idle())
}

func TestRegistryTracksLiveConnections(t *testing.T) {
	l, loop := newTestListener(3 * time.Second)

	conns := make([]*Conn, 4)
	for i := range conns {
		conns[i] = accept(l, loop, &TestSocket{fd: 10 + i})
	}
	assert.Equal(t, 4, l.Len())

	require.NoError(t, conns[0].Close())
	assert.Equal(t, 3, l.Len())

	conns[1].OnData(nil, func([]byte) error { return nil })
	for i := 0; i < 5; i++ {
		l.reaper.Tick()
		conns[1].OnRead([]byte("alive"))
		conns[2].OnRead([]byte("alive"))
	}
	// conns[3] went quiet and was evicted
	assert.Equal(t, 2, l.Len())
	assert.ElementsMatch(t, []*Conn{conns[1], conns[2]}, l.Connections())
}
