package diagnostics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// DeviceAttrKey is the log attribute that routes a record into a device's
// ring. Its value is a DeviceTag, never the raw device id.
const DeviceAttrKey = "device"

const (
	defaultRingBytes   = 16 * 1024
	defaultRingDevices = 256
)

// DeviceTag returns a stable, non-reversible tag for a device id. Logs carry
// the tag so that captured output never contains the device credential.
func DeviceTag(deviceID string) string {
	if deviceID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(deviceID))
	return hex.EncodeToString(sum[:8])
}

// Device returns the log attribute identifying a device.
func Device(deviceID string) slog.Attr {
	return slog.String(DeviceAttrKey, DeviceTag(deviceID))
}

// LogRing keeps the most recent complete log lines within a byte budget.
// Whole lines are evicted oldest first, so the text never starts mid-record.
type LogRing struct {
	mu      sync.Mutex
	lines   []string
	bytes   int
	limit   int
	partial []byte
}

// NewLogRing creates a ring holding at most limit bytes of lines.
func NewLogRing(limit int) *LogRing {
	if limit <= 0 {
		limit = defaultRingBytes
	}
	return &LogRing{limit: limit}
}

// Write implements io.Writer. Bytes after the last newline are held until
// the line is completed by a later write.
func (r *LogRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := p
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			r.partial = append(r.partial, data...)
			break
		}
		line := string(append(r.partial, data[:i+1]...))
		r.partial = r.partial[:0]
		r.push(line)
		data = data[i+1:]
	}
	return len(p), nil
}

func (r *LogRing) push(line string) {
	if len(line) > r.limit {
		line = tailRunes(line, r.limit)
	}
	r.lines = append(r.lines, line)
	r.bytes += len(line)

	drop := 0
	for r.bytes > r.limit {
		r.bytes -= len(r.lines[drop])
		drop++
	}
	if drop > 0 {
		r.lines = append(r.lines[:0], r.lines[drop:]...)
	}
}

// tailRunes keeps the last n bytes of s, moved forward to a rune boundary.
func tailRunes(s string, n int) string {
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

// String returns the buffered lines in write order.
func (r *LogRing) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "")
}

// Len returns the number of buffered bytes.
func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Capacity returns the byte budget.
func (r *LogRing) Capacity() int {
	return r.limit
}

// DeviceLogs holds one LogRing per device tag. When more than maxDevices
// rings exist the least recently written one is dropped.
type DeviceLogs struct {
	mu         sync.Mutex
	rings      map[string]*deviceRing
	ringBytes  int
	maxDevices int
	now        func() time.Time
}

type deviceRing struct {
	ring    *LogRing
	touched time.Time
}

// NewDeviceLogs creates an empty set of per-device rings.
func NewDeviceLogs(ringBytes, maxDevices int) *DeviceLogs {
	if maxDevices <= 0 {
		maxDevices = defaultRingDevices
	}
	return &DeviceLogs{
		rings:      make(map[string]*deviceRing),
		ringBytes:  ringBytes,
		maxDevices: maxDevices,
		now:        time.Now,
	}
}

// ring returns the ring for tag, creating it if needed.
func (d *DeviceLogs) ring(tag string) *LogRing {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rings[tag]; ok {
		r.touched = d.now()
		return r.ring
	}
	if len(d.rings) >= d.maxDevices {
		d.evictOldest()
	}
	r := &deviceRing{ring: NewLogRing(d.ringBytes), touched: d.now()}
	d.rings[tag] = r
	return r.ring
}

func (d *DeviceLogs) evictOldest() {
	var oldest string
	var oldestAt time.Time
	for tag, r := range d.rings {
		if oldest == "" || r.touched.Before(oldestAt) {
			oldest, oldestAt = tag, r.touched
		}
	}
	delete(d.rings, oldest)
}

// Text returns the captured log lines of one device.
func (d *DeviceLogs) Text(deviceID string) string {
	d.mu.Lock()
	r, ok := d.rings[DeviceTag(deviceID)]
	d.mu.Unlock()
	if !ok {
		return ""
	}
	return r.ring.String()
}

// Len returns the number of devices with captured logs.
func (d *DeviceLogs) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rings)
}

// TeeHandler forwards records to a primary handler and also renders records
// carrying a device attribute as plain text into that device's ring.
// Records without one are only sent to the primary handler.
type TeeHandler struct {
	primary slog.Handler
	logs    *DeviceLogs
	level   slog.Leveler
	device  string
	scope   []func(slog.Handler) slog.Handler
}

// NewTeeHandler wraps primary so device records at level and above are
// also captured in logs.
func NewTeeHandler(primary slog.Handler, logs *DeviceLogs, level slog.Leveler) *TeeHandler {
	return &TeeHandler{primary: primary, logs: logs, level: level}
}

// Enabled implements slog.Handler.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.level.Level() {
		if tag := h.deviceOf(record); tag != "" {
			var ring slog.Handler = slog.NewTextHandler(h.logs.ring(tag), &slog.HandlerOptions{Level: h.level})
			for _, apply := range h.scope {
				ring = apply(ring)
			}
			// A ring write cannot fail in a way the caller could act on.
			_ = ring.Handle(ctx, record.Clone())
		}
	}
	if h.primary.Enabled(ctx, record.Level) {
		return h.primary.Handle(ctx, record)
	}
	return nil
}

func (h *TeeHandler) deviceOf(record slog.Record) string {
	tag := h.device
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == DeviceAttrKey {
			tag = a.Value.String()
			return false
		}
		return true
	})
	return tag
}

func (h *TeeHandler) with(apply func(slog.Handler) slog.Handler) *TeeHandler {
	scope := make([]func(slog.Handler) slog.Handler, len(h.scope), len(h.scope)+1)
	copy(scope, h.scope)
	return &TeeHandler{
		primary: apply(h.primary),
		logs:    h.logs,
		level:   h.level,
		device:  h.device,
		scope:   append(scope, apply),
	}
}

// WithAttrs implements slog.Handler.
func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.with(func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
	for _, a := range attrs {
		if a.Key == DeviceAttrKey {
			next.device = a.Value.String()
		}
	}
	return next
}

// WithGroup implements slog.Handler.
func (h *TeeHandler) WithGroup(name string) slog.Handler {
	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}
