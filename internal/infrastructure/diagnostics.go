package infrastructure

import (
	"sync"
	"time"
)

// WebhookRecord is the outcome of one webhook delivery
type WebhookRecord struct {
	At         time.Time `json:"at"`
	Event      string    `json:"event"`
	Instance   string    `json:"instance"`
	Processed  int       `json:"processed"`
	Ignored    int       `json:"ignored"`
	Duplicates int       `json:"duplicates"`
	Error      string    `json:"error,omitempty"`
}

// WebhookDiagnostics keeps the last N webhook outcomes in memory
type WebhookDiagnostics struct {
	mu    sync.Mutex
	buf   []WebhookRecord
	next  int
	full  bool
	total uint64
}

func NewWebhookDiagnostics(capacity int) *WebhookDiagnostics {
	if capacity < 1 {
		capacity = 1
	}
	return &WebhookDiagnostics{buf: make([]WebhookRecord, capacity)}
}

func (d *WebhookDiagnostics) Record(r WebhookRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	d.buf[d.next] = r
	d.next = (d.next + 1) % len(d.buf)
	if d.next == 0 {
		d.full = true
	}
	d.total++
}

// Snapshot returns the retained records, newest first, and the number of
// records ever seen.
func (d *WebhookDiagnostics) Snapshot() ([]WebhookRecord, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.next
	if d.full {
		n = len(d.buf)
	}
	out := make([]WebhookRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (d.next - i + len(d.buf)) % len(d.buf)
		out = append(out, d.buf[idx])
	}
	return out, d.total
}
