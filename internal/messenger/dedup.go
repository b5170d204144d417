package messenger

// Deduplicator suppresses repeated message ids within one webhook delivery.
// It is not safe for concurrent use; each request owns its own instance.
type Deduplicator struct {
	seen map[string]struct{}
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: map[string]struct{}{}}
}

// Accept returns true the first time messageID is seen. An empty id is never
// deduplicated.
func (d *Deduplicator) Accept(messageID string) bool {
	if messageID == "" {
		return true
	}
	if _, ok := d.seen[messageID]; ok {
		return false
	}
	d.seen[messageID] = struct{}{}
	return true
}
