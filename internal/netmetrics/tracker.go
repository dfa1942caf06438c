package netmetrics

import (
	"log/slog"
	"sync"
	"time"
)

// Tracker keeps a warm copy of a backend's lists between samples. Each
// refresh rewrites its caches in place, so repeated sampling of a stable
// stack allocates nothing.
type Tracker struct {
	backend Backend

	mu          sync.Mutex
	stats       NetworkStats
	established *Cache
	tcpListen   *Cache
	udpListen   *Cache
	updatedAt   time.Time
}

// NewTracker creates a tracker over b with empty caches.
func NewTracker(b Backend) *Tracker {
	return &Tracker{
		backend:     b,
		established: NewCache(),
		tcpListen:   NewCache(),
		udpListen:   NewCache(),
	}
}

// Update reads the counters and refreshes every cache within one backend
// view.
func (t *Tracker) Update() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.backend.View(func(v View) error {
		t.stats = v.Stats()
		t.established.Update(v.Records(Established))
		t.tcpListen.Update(v.Records(TCPListen))
		t.udpListen.Update(v.Records(UDPListen))
		t.updatedAt = time.Now()
		return nil
	})
}

// UpdateCounters refreshes the traffic counters and leaves the caches as
// they are.
func (t *Tracker) UpdateCounters() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.backend.View(func(v View) error {
		t.stats = v.Stats()
		return nil
	})
}

// Release frees every cached record and zeroes the counters.
func (t *Tracker) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.established.Release()
	t.tcpListen.Release()
	t.udpListen.Release()
	t.stats = NetworkStats{}
	t.updatedAt = time.Time{}
}

// Reset releases everything and samples again from scratch.
func (t *Tracker) Reset() error {
	t.Release()
	return t.Update()
}

// Counts returns the cached list lengths.
func (t *Tracker) Counts() (established, tcpListen, udpListen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.established.Len(), t.tcpListen.Len(), t.udpListen.Len()
}

// Snapshot copies the cached state out. The result shares no memory with
// the tracker.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Stats:       t.stats,
		Established: make([]Connection, t.established.Len()),
		TCPPorts:    make([]uint16, 0, t.tcpListen.Len()),
		UDPPorts:    make([]uint16, 0, t.udpListen.Len()),
		TakenAt:     t.updatedAt,
	}
	t.established.CopyTo(snap.Established)
	for rec := range t.tcpListen.All() {
		snap.TCPPorts = append(snap.TCPPorts, rec.LocalPort)
	}
	for rec := range t.udpListen.All() {
		snap.UDPPorts = append(snap.UDPPorts, rec.LocalPort)
	}
	return snap
}

// maxLoggedConnections bounds the per-connection lines LogSummary writes.
const maxLoggedConnections = 32

// LogSummary writes the cached state to logger at debug level.
func (t *Tracker) LogSummary(logger *slog.Logger) {
	if logger == nil {
		logger = log
	}
	established, tcpListen, udpListen := t.Counts()

	t.mu.Lock()
	defer t.mu.Unlock()

	logger.Debug("network metrics",
		"backend", t.backend.Name(),
		"packetsIn", t.stats.PacketsReceived,
		"packetsOut", t.stats.PacketsSent,
		"bytesIn", t.stats.BytesReceived,
		"bytesOut", t.stats.BytesSent,
		"established", established,
		"tcpListen", tcpListen,
		"udpListen", udpListen,
	)
	n := t.established.Len()
	for i := range min(n, maxLoggedConnections) {
		rec := t.established.At(i)
		logger.Debug("established connection",
			"local", formatEndpoint(rec.LocalAddr, rec.LocalPort),
			"remote", formatEndpoint(rec.RemoteAddr, rec.RemotePort),
		)
	}
	if n > maxLoggedConnections {
		logger.Debug("established connections omitted", "omitted", n-maxLoggedConnections)
	}
	for rec := range t.tcpListen.All() {
		logger.Debug("listening tcp port", "port", rec.LocalPort)
	}
	for rec := range t.udpListen.All() {
		logger.Debug("listening udp port", "port", rec.LocalPort)
	}
}
