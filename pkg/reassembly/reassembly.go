// Package reassembly accumulates fragments arriving in order, keyed by
// sequence number, into complete application messages.
package reassembly

import (
	"fmt"
	"sync"
)

// Message accumulates fragment payloads for one SequenceNumber.
type Message struct {
	SequenceNumber uint32
	FragmentCount  uint16

	mu       sync.Mutex
	buf      []byte
	received uint16
}

// AddFragment appends payload and counts it towards the declared fragment
// count. Fragments are assumed ordered by the transport: there is no
// reordering here, only concatenation and a completion count.
func (m *Message) AddFragment(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, payload...)
	m.received++
}

// IsComplete reports whether every declared fragment has arrived.
func (m *Message) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received == m.FragmentCount
}

// Bytes returns the concatenated buffer accumulated so far.
func (m *Message) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}

// Table is the per-session reassembly table keyed by SequenceNumber. Only
// touched by the transport's single reader goroutine when adding fragments,
// and by an application task's cleanup step after the message resolves, so
// a lock on the map itself is enough.
type Table struct {
	mu       sync.Mutex
	messages map[uint32]*Message
}

// NewTable returns an empty reassembly table.
func NewTable() *Table {
	return &Table{messages: make(map[uint32]*Message)}
}

// AddFragment appends payload to the message for sequenceNumber, creating
// the entry lazily if this is the first fragment seen for it, and returns
// the message it was added to.
func (t *Table) AddFragment(sequenceNumber uint32, fragmentIndex, fragmentCount uint16, payload []byte) (*Message, error) {
	if fragmentCount == 0 {
		return nil, fmt.Errorf("reassembly: fragment count must be > 0")
	}
	if fragmentIndex >= fragmentCount {
		return nil, fmt.Errorf("reassembly: fragment index %d >= count %d", fragmentIndex, fragmentCount)
	}

	t.mu.Lock()
	m, ok := t.messages[sequenceNumber]
	if !ok {
		m = &Message{SequenceNumber: sequenceNumber, FragmentCount: fragmentCount}
		t.messages[sequenceNumber] = m
	}
	t.mu.Unlock()

	m.AddFragment(payload)
	return m, nil
}

// Remove deletes the entry for sequenceNumber. Called after the handler
// resolves (success or failure) so a duplicate final fragment cannot
// reopen a finished message.
func (t *Table) Remove(sequenceNumber uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.messages, sequenceNumber)
}

// Len reports the number of in-flight (incomplete or not-yet-removed)
// messages. Exposed for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
