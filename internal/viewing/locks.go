// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package viewing

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/tomtom215/marquee/internal/models"
)

// DefaultLockStripes is the number of mutexes keys are hashed onto.
const DefaultLockStripes = 256

// stripedLocks serializes work per (user, event) key without a map entry
// per key. Two keys may share a stripe; that only costs parallelism.
type stripedLocks struct {
	stripes []sync.Mutex
}

func newStripedLocks(n int) *stripedLocks {
	if n <= 0 {
		n = DefaultLockStripes
	}
	return &stripedLocks{stripes: make([]sync.Mutex, n)}
}

func (l *stripedLocks) index(key models.LedgerKey) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.UserID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.EventID))
	return int(h.Sum32() % uint32(len(l.stripes)))
}

// lock acquires the stripes of every key in ascending stripe order, taking a
// shared stripe once, and returns the matching unlock.
func (l *stripedLocks) lock(keys ...models.LedgerKey) (unlock func()) {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := l.index(k)
		dup := false
		for _, j := range idx {
			if j == i {
				dup = true
				break
			}
		}
		if !dup {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)

	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for k := len(idx) - 1; k >= 0; k-- {
			l.stripes[idx[k]].Unlock()
		}
	}
}
