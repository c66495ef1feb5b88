package internal

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// RecursiveMutex is a depth-counting mutex safe for re-entrant locking by
// the same goroutine. nat.Table uses it so that a goroutine already
// holding the table's lock can call into the table again, which a plain
// sync.Mutex would deadlock on.
//
// The zero value is ready to use.
type RecursiveMutex struct {
	cond  sync.Cond
	mu    sync.Mutex
	owner int64
	depth int
}

func (m *RecursiveMutex) init() {
	if m.cond.L == nil {
		m.cond.L = &m.mu
	}
}

// Lock acquires the mutex. If the calling goroutine already holds it, Lock
// increments the recursion depth instead of blocking.
func (m *RecursiveMutex) Lock() {
	gid := goroutineID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if m.depth > 0 && m.owner == gid {
		m.depth++
		return
	}
	for m.depth > 0 {
		m.cond.Wait()
	}
	m.owner = gid
	m.depth = 1
}

// Unlock decrements the recursion depth, releasing the lock entirely once
// it reaches zero. Unlock by a goroutine that does not hold the lock is a
// programming error, same as sync.Mutex.
func (m *RecursiveMutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		panic("internal: Unlock of unlocked RecursiveMutex")
	}
	m.depth--
	if m.depth == 0 {
		m.cond.Signal()
	}
}

// goroutineID extracts the calling goroutine's id from its stack trace.
// It is only ever used to detect re-entrant Lock calls, never for
// scheduling decisions.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
