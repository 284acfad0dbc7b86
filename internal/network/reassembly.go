package network

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/siohaza/tapserv/internal/protocol"
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrTooManyPartials = errors.New("too many partial messages from sender")
)

const (
	defaultMaxPartials  = 16
	defaultMaxAssembled = 1 << 20
)

type assemblyKey struct {
	from netip.AddrPort
	id   uint32
}

type assembly struct {
	count   uint32
	parts   map[uint32][]byte
	size    int
	started time.Time
}

// assemblyLimits bound what one peer can make the assembler hold.
type assemblyLimits struct {
	maxChunks   uint32
	maxBytes    int
	maxPartials int
}

// newAssemblyLimits derives the chunk cap from the largest message and the chunk size
// peers are expected to use.
func newAssemblyLimits(maxBytes, chunkSize, maxPartials int) assemblyLimits {
	if maxBytes <= 0 {
		maxBytes = defaultMaxAssembled
	}
	if chunkSize <= 0 {
		chunkSize = protocol.DefaultChunkSize
	}
	if maxPartials <= 0 {
		maxPartials = defaultMaxPartials
	}
	return assemblyLimits{
		maxChunks:   uint32((maxBytes + chunkSize - 1) / chunkSize),
		maxBytes:    maxBytes,
		maxPartials: maxPartials,
	}
}

// assembler buffers the chunks of multi-chunk messages until every index has arrived.
type assembler struct {
	mu       deadlock.Mutex
	limits   assemblyLimits
	pending  map[assemblyKey]*assembly
	partials map[netip.AddrPort]int
}

func newAssembler(limits assemblyLimits) *assembler {
	return &assembler{
		limits:   limits,
		pending:  make(map[assemblyKey]*assembly),
		partials: make(map[netip.AddrPort]int),
	}
}

// check rejects chunks that could never form an acceptable message.
func (a *assembler) check(d protocol.Datagram) error {
	if d.ChunkCount > a.limits.maxChunks {
		return fmt.Errorf("%w: %d chunks, limit %d", ErrMessageTooLarge, d.ChunkCount, a.limits.maxChunks)
	}
	if len(d.Payload) > a.limits.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(d.Payload), a.limits.maxBytes)
	}
	return nil
}

// add stores one chunk and returns the whole message once the last chunk is in.
func (a *assembler) add(from netip.AddrPort, d protocol.Datagram, now time.Time) ([]byte, bool, error) {
	if err := a.check(d); err != nil {
		return nil, false, err
	}
	if d.ChunkCount == 1 {
		return d.Payload, true, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := assemblyKey{from: from, id: d.MessageID}
	as, ok := a.pending[key]
	if ok && as.count != d.ChunkCount {
		a.drop(key)
		ok = false
	}
	if !ok {
		if a.partials[from] >= a.limits.maxPartials {
			return nil, false, ErrTooManyPartials
		}
		as = &assembly{
			count:   d.ChunkCount,
			parts:   make(map[uint32][]byte),
			started: now,
		}
		a.pending[key] = as
		a.partials[from]++
	}

	if _, dup := as.parts[d.ChunkIndex]; !dup {
		if as.size+len(d.Payload) > a.limits.maxBytes {
			a.drop(key)
			return nil, false, fmt.Errorf("%w: over %d bytes", ErrMessageTooLarge, a.limits.maxBytes)
		}
		as.parts[d.ChunkIndex] = d.Payload
		as.size += len(d.Payload)
	}
	if uint32(len(as.parts)) < as.count {
		return nil, false, nil
	}

	a.drop(key)
	msg := make([]byte, 0, as.size)
	for i := uint32(0); i < as.count; i++ {
		msg = append(msg, as.parts[i]...)
	}
	return msg, true, nil
}

// drop forgets a partial message. Callers hold the lock.
func (a *assembler) drop(key assemblyKey) {
	if _, ok := a.pending[key]; !ok {
		return
	}
	delete(a.pending, key)
	a.partials[key.from]--
	if a.partials[key.from] <= 0 {
		delete(a.partials, key.from)
	}
}

// evict drops partial messages older than timeout and reports how many it dropped.
func (a *assembler) evict(now time.Time, timeout time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for key, as := range a.pending {
		if now.Sub(as.started) > timeout {
			a.drop(key)
			n++
		}
	}
	return n
}

func (a *assembler) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
