package service

import (
	"crypto/sha1"
	"encoding/binary"
	"sync"
)

const lockShardCount = 64

// conversationLocks serializes appends within a conversation while letting
// independent conversations proceed fully in parallel. Striped rather than
// per-id so the map never grows.
type conversationLocks struct {
	stripes [lockShardCount]sync.Mutex
}

func (l *conversationLocks) lock(conversationID string) func() {
	h := sha1.Sum([]byte(conversationID))
	idx := binary.BigEndian.Uint32(h[:4]) % lockShardCount

	l.stripes[idx].Lock()
	return l.stripes[idx].Unlock
}
