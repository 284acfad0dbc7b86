package network

import (
	"net/netip"
	"time"

	"github.com/sasha-s/go-deadlock"
)

type pendingSend struct {
	to      netip.AddrPort
	sentAt  time.Time
	retries int
	// encoded datagrams by chunk index, nil once acknowledged
	chunks [][]byte
}

func (p *pendingSend) outstanding() int {
	n := 0
	for _, c := range p.chunks {
		if c != nil {
			n++
		}
	}
	return n
}

type resend struct {
	to       netip.AddrPort
	datagram []byte
}

type sweepResult struct {
	resends   []resend
	completed int
	abandoned []uint32
}

// pendingTable tracks reliable sends awaiting acknowledgment, keyed by message id.
type pendingTable struct {
	mu      deadlock.Mutex
	entries map[uint32]*pendingSend
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[uint32]*pendingSend),
	}
}

func (t *pendingTable) add(id uint32, to netip.AddrPort, chunks [][]byte, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &pendingSend{to: to, sentAt: now, chunks: chunks}
}

// ack clears one chunk. Acks from anyone but the destination are ignored.
func (t *pendingTable) ack(id, chunk uint32, from netip.AddrPort) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[id]
	if !ok || p.to != from || int(chunk) >= len(p.chunks) || p.chunks[chunk] == nil {
		return false
	}
	p.chunks[chunk] = nil
	return true
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *pendingTable) outstanding(id uint32) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	if !ok {
		return 0, false
	}
	return p.outstanding(), true
}

// sweep drops finished and exhausted entries and collects chunks due for resending.
func (t *pendingTable) sweep(now time.Time, retryInterval time.Duration, maxRetries int) sweepResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res sweepResult
	for id, p := range t.entries {
		if p.outstanding() == 0 {
			delete(t.entries, id)
			res.completed++
			continue
		}
		if p.retries >= maxRetries {
			delete(t.entries, id)
			res.abandoned = append(res.abandoned, id)
			continue
		}
		if now.Sub(p.sentAt) < retryInterval {
			continue
		}

		for _, c := range p.chunks {
			if c != nil {
				res.resends = append(res.resends, resend{to: p.to, datagram: c})
			}
		}
		p.retries++
		p.sentAt = now
	}
	return res
}
