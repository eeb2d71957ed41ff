package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// GenID returns a sortable message identifier. The nanosecond prefix keeps
// lexicographic order aligned with creation order; the counter breaks ties
// within the same nanosecond.
func GenID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

// GenConvID returns a new conversation identifier.
func GenConvID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("conv-%d-%d", n, s)
}
