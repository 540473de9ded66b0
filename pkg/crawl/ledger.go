package crawl

import "sync"

// Ledger is the process-wide set of normalized URLs already discovered
// during one crawl. Insertion happens at classification time, before any
// download is attempted, so a URL reachable from several index pages is
// never scheduled twice. Safe for concurrent use.
type Ledger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewLedger creates an empty Ledger. One Ledger lives for the whole crawl.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Add inserts a normalized URL, returning true only on first insertion.
// The true return is the de-facto claim on the URL.
func (l *Ledger) Add(normURL string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[normURL]; ok {
		return false
	}
	l.seen[normURL] = struct{}{}
	return true
}

// Has reports whether a normalized URL was already discovered.
func (l *Ledger) Has(normURL string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[normURL]
	return ok
}

// Len returns the number of discovered URLs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
