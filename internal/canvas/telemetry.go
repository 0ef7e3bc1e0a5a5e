package canvas

import "sync"

// TelemetryBag models the heterogeneous JSON telemetry mapping a worker
// reports. The orchestrator needs exactly two typed views —
// RemainingCharges and PreviewData — both through validating accessors
// that default safely on missing or malformed data. Anything else
// reported by a worker lives in Extra, untouched.
type TelemetryBag struct {
	mu                  sync.RWMutex
	remainingCharges    int
	hasPreview          bool
	preview             Preview
	lastPreviewAt       int64
	extra               map[string]any
}

// NewTelemetryBag returns an empty bag.
func NewTelemetryBag() *TelemetryBag {
	return &TelemetryBag{extra: make(map[string]any)}
}

// RemainingCharges returns the non-negative integer the orchestrator
// reads as the worker's available paint credits, or 0 if absent/negative.
func (b *TelemetryBag) RemainingCharges() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.remainingCharges
}

// SetRemainingCharges records the worker's self-reported charge count,
// clamped to a non-negative integer.
func (b *TelemetryBag) SetRemainingCharges(n int) {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remainingCharges = n
}

// PreviewData returns the stored preview, or a zero Preview if none has
// arrived yet.
func (b *TelemetryBag) PreviewData() Preview {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.preview
}

// LastPreviewTimestamp returns the epoch-second timestamp of the last
// preview replacement, or 0 if none has occurred.
func (b *TelemetryBag) LastPreviewTimestamp() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPreviewAt
}

// SetPreview applies the detailed-vs-stale replacement rule: a newly
// arrived preview replaces the stored one iff the new preview is
// detailed OR the stored one is not detailed. now is the caller's
// epoch-second clock reading, bumped on every arrival regardless of
// whether the preview itself was replaced.
func (b *TelemetryBag) SetPreview(p Preview, now int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Detailed() || !b.preview.Detailed() {
		b.preview = p
		b.hasPreview = true
	}
	b.lastPreviewAt = now
}

// SetExtra stores an arbitrary telemetry field under key.
func (b *TelemetryBag) SetExtra(key string, val any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extra[key] = val
}

// Extra returns the arbitrary telemetry field stored under key, if any.
func (b *TelemetryBag) Extra(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.extra[key]
	return v, ok
}
