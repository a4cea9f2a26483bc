package records

import "sync"

type LockMode int

const (
	LockNone LockMode = iota
	LockRead
	LockWrite
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "none"
	case LockRead:
		return "read"
	case LockWrite:
		return "write"
	default:
		return "invalid"
	}
}

// lockTable holds row locks across transactions. Read locks are shared,
// write locks exclusive; a request that cannot be granted fails at once.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

type rowLock struct {
	readers map[*Tx]struct{}
	writer  *Tx
}

func (lt *lockTable) acquire(tx *Tx, name string, mode LockMode) bool {
	if mode == LockNone {
		return true
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	rl := lt.locks[name]
	if rl == nil {
		rl = &rowLock{readers: make(map[*Tx]struct{})}
		lt.locks[name] = rl
	}
	if rl.writer == tx {
		return true
	}
	switch mode {
	case LockRead:
		if rl.writer != nil {
			return false
		}
		rl.readers[tx] = struct{}{}
	case LockWrite:
		if rl.writer != nil {
			return false
		}
		for r := range rl.readers {
			if r != tx {
				return false
			}
		}
		delete(rl.readers, tx)
		rl.writer = tx
	}
	return true
}

func (lt *lockTable) releaseAll(tx *Tx, names []string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for _, name := range names {
		rl := lt.locks[name]
		if rl == nil {
			continue
		}
		if rl.writer == tx {
			rl.writer = nil
		}
		delete(rl.readers, tx)
		if rl.writer == nil && len(rl.readers) == 0 {
			delete(lt.locks, name)
		}
	}
}
