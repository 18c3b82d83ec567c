package stream

import (
	"crypto/sha256"
	"encoding/json"
	"sort"
	"sync"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

// Fingerprint identifies a batch's content independent of tick arrival order.
type Fingerprint [sha256.Size]byte

// Digest fingerprints the batch in symbol order, so reordering the same
// content cannot fake a change.
func Digest(batch []models.EnrichedSnapshot) Fingerprint {
	ordered := make([]models.EnrichedSnapshot, len(batch))
	copy(ordered, batch)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Symbol < ordered[j].Symbol
	})

	// Marshal cannot fail for these concrete field types.
	payload, _ := json.Marshal(ordered)
	return sha256.Sum256(payload)
}

// ChangeDetector suppresses broadcasts whose content is identical to the last
// batch that actually went out on the same channel.
type ChangeDetector struct {
	mu   sync.Mutex
	last map[string]Fingerprint
}

func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{last: make(map[string]Fingerprint)}
}

// Changed reports whether the fingerprint differs from the channel's last
// recorded one. The first batch on a channel always counts as changed.
// Changed never records; Record does, after the broadcast succeeds.
func (d *ChangeDetector) Changed(channel string, fp Fingerprint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, seen := d.last[channel]
	return !seen || prev != fp
}

// Record stores the fingerprint of a successfully broadcast batch.
func (d *ChangeDetector) Record(channel string, fp Fingerprint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last[channel] = fp
}
