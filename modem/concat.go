package modem

import (
	"log/slog"
	"sort"
	"strings"
	"time"
)

type concatKey struct {
	sender string
	ref    int
}

type concatEntry struct {
	total     int
	parts     map[int]string
	firstSeen time.Time // wall-clock arrival of the first part, drives expiry
	timestamp time.Time // SCTS of the first-received part, used for the merged message
}

// concatCache reassembles multi-part SMS keyed by (sender, reference
// number). Like the assembler it is only ever touched by the session's
// process task.
type concatCache struct {
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	entries map[concatKey]*concatEntry
}

func newConcatCache(ttl time.Duration, logger *slog.Logger) *concatCache {
	return &concatCache{
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[concatKey]*concatEntry),
	}
}

// Add records one part of a multi-part message. Expired entries are swept
// first, so a late-arriving final part cannot resurrect an evicted entry.
// When the part completes its sequence the merged message is returned with
// ok true and the entry is deleted.
func (c *concatCache) Add(msg Message) (merged Message, ok bool) {
	c.sweep()

	key := concatKey{sender: msg.Sender, ref: msg.Concat.Ref}
	entry, exists := c.entries[key]

	// Validate against the open entry's total when one exists; an invalid
	// part must not create an entry of its own.
	total := msg.Concat.Total
	if exists {
		total = entry.total
	}
	if msg.Concat.Seq < 1 || msg.Concat.Seq > total {
		c.logger.Warn("Dropping part with out-of-range sequence number",
			"sender", msg.Sender, "ref", msg.Concat.Ref,
			"seq", msg.Concat.Seq, "total", total)
		return Message{}, false
	}

	if !exists {
		entry = &concatEntry{
			total:     msg.Concat.Total,
			parts:     make(map[int]string),
			firstSeen: c.now(),
			timestamp: msg.Timestamp,
		}
		c.entries[key] = entry
	}

	// Last write wins on a recurring sequence number.
	entry.parts[msg.Concat.Seq] = msg.Text

	if len(entry.parts) < entry.total {
		c.logger.Debug("Multi-part SMS incomplete", "sender", msg.Sender,
			"ref", msg.Concat.Ref, "got", len(entry.parts), "want", entry.total)
		return Message{}, false
	}

	delete(c.entries, key)
	return Message{
		Sender:    msg.Sender,
		Timestamp: entry.timestamp,
		Text:      entry.merge(),
	}, true
}

func (e *concatEntry) merge() string {
	seqs := make([]int, 0, len(e.parts))
	for seq := range e.parts {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	var b strings.Builder
	for _, seq := range seqs {
		b.WriteString(e.parts[seq])
	}
	return b.String()
}

// sweep evicts every entry older than the expiry window. Evicted entries are
// necessarily incomplete; their partial content is discarded, never
// forwarded.
func (c *concatCache) sweep() {
	cutoff := c.now().Add(-c.ttl)
	for key, entry := range c.entries {
		if entry.firstSeen.After(cutoff) {
			continue
		}
		c.logger.Warn("Evicting expired multi-part SMS",
			"sender", key.sender, "ref", key.ref,
			"got", len(entry.parts), "want", entry.total)
		delete(c.entries, key)
	}
}
