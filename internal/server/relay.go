package server

import (
	"errors"
	"sync"
	"time"

	"github.com/Tyrowin/lanrelay/internal/transfer"
)

// ErrTooManyTransfers is returned when a client starts more concurrent
// relayed transfers than Limits.MaxTransfersPerClient allows.
var ErrTooManyTransfers = errors.New("too many concurrent transfers")

type relayedTransfer struct {
	sender      string
	totalChunks int
	startedAt   time.Time
}

// relayTable remembers which clients take part in each forwarded transfer
// so that a disconnect can tell the surviving side to give up. The relay
// never holds chunk bytes.
type relayTable struct {
	mu        sync.Mutex
	owners    *transfer.OwnerIndex
	transfers map[string]relayedTransfer
}

func newRelayTable() *relayTable {
	return &relayTable{
		owners:    transfer.NewOwnerIndex(),
		transfers: make(map[string]relayedTransfer),
	}
}

// begin records a transfer from sender to recipients. A repeated start for
// the same id adds recipients to the existing record.
func (t *relayTable) begin(id, sender string, recipients []string, totalChunks int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.transfers[id]; !ok {
		t.transfers[id] = relayedTransfer{sender: sender, totalChunks: totalChunks, startedAt: now}
	}
	t.owners.Add(id, sender)
	t.owners.Add(id, recipients...)
}

// end forgets id and returns its owners.
func (t *relayTable) end(id string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.transfers, id)
	return t.owners.Remove(id)
}

// settle handles a file-complete or file-transfer-cancel from clientID.
// The sender ends the whole record. A receiver only drops out of it, and
// the record ends once no receiver is left. It reports whether the record
// ended.
func (t *relayTable) settle(id, clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.transfers[id]
	if !ok {
		return false
	}
	if clientID != rec.sender {
		if !t.owners.RemoveOwner(id, clientID) {
			return false
		}
		for _, owner := range t.owners.Owners(id) {
			if owner != rec.sender {
				return false
			}
		}
	}
	delete(t.transfers, id)
	t.owners.Remove(id)
	return true
}

// owned returns the transfers clientID sends or receives.
func (t *relayTable) owned(clientID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owners.Owned(clientID)
}

// sentBy counts the transfers clientID is currently sending.
func (t *relayTable) sentBy(clientID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, id := range t.owners.Owned(clientID) {
		if t.transfers[id].sender == clientID {
			n++
		}
	}
	return n
}

func (t *relayTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.transfers)
}
