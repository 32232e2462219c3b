// Package ids generates identifiers for clients and rooms.
//
// Client ids are random UUIDs. Room ids are short enough to read aloud or
// type on a phone: a base36 millisecond timestamp followed by a random
// base36 suffix. They only need to be unique for the lifetime of one relay
// process, not unguessable.
package ids

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	roomSuffixLen = 6
	alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewClientID returns a fresh client id.
func NewClientID() string {
	return uuid.NewString()
}

// NewRoomID returns a fresh room id seeded from now.
func NewRoomID(now time.Time) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	b.WriteByte('-')
	for range roomSuffixLen {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}

// NewTransferID returns a fresh transfer id for senders that do not bring
// their own.
func NewTransferID() string {
	return "tx-" + uuid.NewString()
}

// Short returns the first eight characters of id, for display.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
