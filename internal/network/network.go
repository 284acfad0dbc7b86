package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siohaza/tapserv/internal/metrics"
	"github.com/siohaza/tapserv/internal/protocol"
	"github.com/siohaza/tapserv/pkg/config"
)

// Handler receives each complete, verified inbound message with its sender.
type Handler func(payload []byte, from netip.AddrPort)

type Options struct {
	ChunkSize         int
	MaxRetries        int
	RetryInterval     time.Duration
	SweepInterval     time.Duration
	ReassemblyTimeout time.Duration
	DedupTTL          time.Duration
	Checksum          string
	RateLimit         float64
	RateBurst         int
	MaxMessageSize    int
	// partial multi-chunk messages one sender may have in flight
	MaxPartials int
	// how long a sender may stay silent before its rate limiter is dropped
	LimiterIdle time.Duration
	Now         func() time.Time
}

func OptionsFromConfig(cfg config.TransportConfig) Options {
	return Options{
		ChunkSize:         cfg.ChunkSize,
		MaxRetries:        cfg.MaxRetries,
		RetryInterval:     cfg.RetryInterval(),
		SweepInterval:     cfg.SweepInterval(),
		ReassemblyTimeout: cfg.ReassemblyTimeout(),
		DedupTTL:          cfg.DedupTTL(),
		Checksum:          cfg.Checksum,
		RateLimit:         float64(cfg.RateLimitPerSec),
		RateBurst:         cfg.RateLimitBurst,
		MaxMessageSize:    cfg.MaxMessageSize,
	}
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = protocol.DefaultChunkSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = protocol.MaxRetries
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 500 * time.Millisecond
	}
	if o.ReassemblyTimeout <= 0 {
		o.ReassemblyTimeout = 10 * time.Second
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 10 * time.Second
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxAssembled
	}
	if o.MaxPartials <= 0 {
		o.MaxPartials = defaultMaxPartials
	}
	if o.LimiterIdle <= 0 {
		o.LimiterIdle = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Transport is a reliable-messaging layer over one UDP socket. Messages are split
// into checksummed chunks; reliable chunks are retransmitted until acknowledged or
// the retry budget runs out.
type Transport struct {
	opts    Options
	digest  Digest
	conn    *net.UDPConn
	nextID  atomic.Uint32
	pending *pendingTable
	chunks  *assembler
	dedup   *dedupCache
	limiter *senderLimiter
	logger  *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

func New(opts Options, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()

	if opts.ChunkSize > protocol.MaxDatagramSize-protocol.DataHeaderSize {
		return nil, fmt.Errorf("chunk size %d exceeds datagram limit", opts.ChunkSize)
	}

	digest, err := DigestFor(opts.Checksum)
	if err != nil {
		return nil, err
	}

	dedup, err := newDedupCache(opts.DedupTTL)
	if err != nil {
		return nil, err
	}

	return &Transport{
		opts:    opts,
		digest:  digest,
		pending: newPendingTable(),
		chunks:  newAssembler(newAssemblyLimits(opts.MaxMessageSize, opts.ChunkSize, opts.MaxPartials)),
		dedup:   dedup,
		limiter: newSenderLimiter(opts.RateLimit, opts.RateBurst),
		logger:  logger,
		closed:  make(chan struct{}),
	}, nil
}

// Listen binds the UDP socket, e.g. ":10000".
func (t *Transport) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	t.conn = conn

	t.logger.Info("transport listening", "addr", conn.LocalAddr().String(), "chunk_size", t.opts.ChunkSize)
	return nil
}

func (t *Transport) LocalAddr() netip.AddrPort {
	if t.conn == nil {
		return netip.AddrPort{}
	}
	return normalize(t.conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

// Serve runs the receive loop and the retry sweep until ctx is cancelled, then closes the socket.
func (t *Transport) Serve(ctx context.Context, h Handler) error {
	if t.conn == nil {
		return fmt.Errorf("transport not listening")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.sweepLoop(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			t.Close()
		case <-t.closed:
		}
	}()

	err := t.receiveLoop(h)
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.conn != nil {
			err = t.conn.Close()
		}
		t.dedup.close()
	})
	return err
}

// Send chunks payload, writes every chunk immediately and returns the message id.
// Reliable messages are tracked until each chunk is acknowledged.
func (t *Transport) Send(payload []byte, kind protocol.Kind, to netip.AddrPort) (uint32, error) {
	if kind != protocol.KindUnreliable && kind != protocol.KindReliable {
		return 0, fmt.Errorf("cannot send payload as %s", kind)
	}
	if t.conn == nil {
		return 0, fmt.Errorf("transport not listening")
	}

	if len(payload) > t.opts.MaxMessageSize {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(payload), t.opts.MaxMessageSize)
	}

	to = normalize(to)
	id := t.nextID.Add(1) - 1
	parts := protocol.Split(payload, t.opts.ChunkSize)
	datagrams := make([][]byte, len(parts))
	for i, part := range parts {
		datagrams[i] = protocol.AppendData(nil, protocol.Header{
			Kind:       kind,
			MessageID:  id,
			Checksum:   t.digest(part),
			ChunkCount: uint32(len(parts)),
			ChunkIndex: uint32(i),
		}, part)
	}

	if kind == protocol.KindReliable {
		tracked := make([][]byte, len(datagrams))
		copy(tracked, datagrams)
		t.pending.add(id, to, tracked, t.opts.Now())
		metrics.SetPending(t.pending.len())
	}

	for _, d := range datagrams {
		if err := t.write(d, to, kind); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (t *Transport) write(datagram []byte, to netip.AddrPort, kind protocol.Kind) error {
	if _, err := t.conn.WriteToUDPAddrPort(datagram, to); err != nil {
		return fmt.Errorf("failed to send to %s: %w", to, err)
	}
	metrics.RecordSent(kind.String())
	return nil
}

func (t *Transport) receiveLoop(h Handler) error {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Debug("read failed", "error", err)
			continue
		}
		t.handleDatagram(buf[:n], normalize(from), h)
	}
}

// normalize strips the IPv4-in-IPv6 prefix so acks from a peer match the address we send to.
func normalize(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (t *Transport) handleDatagram(data []byte, from netip.AddrPort, h Handler) {
	now := t.opts.Now()

	if !t.limiter.allow(from, now) {
		metrics.RecordDropped(metrics.DropRateLimit)
		return
	}

	d, err := protocol.Parse(data)
	if err != nil {
		metrics.RecordDropped(metrics.DropMalformed)
		t.logger.Debug("dropping malformed datagram", "from", from, "size", len(data), "error", err)
		return
	}
	metrics.RecordReceived(d.Kind.String())

	if d.IsAck() {
		if t.pending.ack(d.MessageID, d.ChunkIndex, from) {
			t.logger.Debug("chunk acknowledged", "from", from, "message", d.MessageID, "chunk", d.ChunkIndex)
		}
		return
	}

	if t.digest(d.Payload) != d.Checksum {
		metrics.RecordDropped(metrics.DropChecksum)
		t.logger.Debug("dropping corrupt chunk", "from", from, "message", d.MessageID, "chunk", d.ChunkIndex)
		return
	}

	if err := t.chunks.check(d); err != nil {
		metrics.RecordDropped(metrics.DropMalformed)
		t.logger.Debug("dropping oversized message", "from", from, "message", d.MessageID, "error", err)
		return
	}

	reliable := d.Kind == protocol.KindReliable
	if reliable {
		if err := t.write(protocol.AppendAck(nil, d.MessageID, d.ChunkIndex), from, protocol.KindAck); err != nil {
			t.logger.Debug("ack failed", "to", from, "error", err)
		}
		if t.dedup.seen(from, d.MessageID) {
			metrics.RecordDropped(metrics.DropDuplicate)
			return
		}
	}

	msg, complete, err := t.chunks.add(from, d, now)
	if err != nil {
		metrics.RecordDropped(metrics.DropMalformed)
		t.logger.Debug("dropping chunk", "from", from, "message", d.MessageID, "error", err)
		return
	}
	if !complete {
		return
	}
	if reliable {
		t.dedup.mark(from, d.MessageID)
	}

	h(msg, from)
}

func (t *Transport) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.SweepInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(t.opts.LimiterIdle)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		case <-ticker.C:
			t.sweep(t.opts.Now())
		case <-cleanup.C:
			if n := t.limiter.cleanup(t.opts.Now(), t.opts.LimiterIdle); n > 0 {
				t.logger.Debug("dropped idle rate limiters", "count", n)
			}
		}
	}
}

// sweep retires acknowledged and exhausted reliable sends, resends overdue chunks
// and evicts stale partial messages.
func (t *Transport) sweep(now time.Time) {
	res := t.pending.sweep(now, t.opts.RetryInterval, t.opts.MaxRetries)

	for _, id := range res.abandoned {
		metrics.RecordAbandoned()
		t.logger.Debug("reliable message abandoned", "message", id, "retries", t.opts.MaxRetries)
	}

	for _, r := range res.resends {
		if err := t.write(r.datagram, r.to, protocol.KindReliable); err != nil {
			t.logger.Debug("resend failed", "to", r.to, "error", err)
		}
	}
	if len(res.resends) > 0 {
		metrics.RecordRetransmits(len(res.resends))
	}

	if n := t.chunks.evict(now, t.opts.ReassemblyTimeout); n > 0 {
		t.logger.Debug("evicted partial messages", "count", n)
	}

	metrics.SetPending(t.pending.len())
}

// Pending reports how many reliable messages still await acknowledgment.
func (t *Transport) Pending() int {
	return t.pending.len()
}
