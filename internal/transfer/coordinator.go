package transfer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Coordinator errors.
var (
	ErrUnknownTransfer   = errors.New("unknown transfer")
	ErrDuplicateTransfer = errors.New("transfer already in progress")
	ErrChunkOutOfRange   = errors.New("chunk index out of range")
	ErrTooManyChunks     = errors.New("declared chunk count exceeds limit")
	ErrTooManySessions   = errors.New("too many concurrent transfers")
	ErrIncomplete        = errors.New("transfer finished with missing chunks")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrCancelled         = errors.New("transfer cancelled")
	ErrStalled           = errors.New("transfer stalled")
)

// CompletionPolicy decides when a session is considered complete.
type CompletionPolicy int

const (
	// Strict completes only once every slot holds a chunk. A last-chunk
	// flag just records that the sender is done; an explicit finish while
	// slots are still empty fails the transfer with ErrIncomplete.
	Strict CompletionPolicy = iota

	// Permissive completes on whichever comes first: every slot filled,
	// a last-chunk flag, or an explicit finish. Empty slots are reported
	// in Result.Missing and contribute nothing to Result.Data.
	Permissive
)

func (p CompletionPolicy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Permissive:
		return "permissive"
	default:
		return fmt.Sprintf("CompletionPolicy(%d)", int(p))
	}
}

const (
	defaultMaxTotalChunks = 1 << 16
	defaultMaxSessions    = 64
)

// Start describes a transfer as announced by its sender.
type Start struct {
	TransferID  string
	FileName    string
	FileSize    int64
	TotalChunks int
	Checksum    string
	Sender      string
	Receiver    string
}

// Progress reports how many distinct chunks of a transfer have arrived.
type Progress struct {
	TransferID string
	Received   int
	Total      int
}

// Result is delivered once per session when it leaves the coordinator.
// Err is nil on success.
type Result struct {
	TransferID string
	FileName   string
	Sender     string
	Data       []byte
	Missing    []int
	Duration   time.Duration
	Err        error
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Policy         CompletionPolicy
	MaxTotalChunks int
	MaxSessions    int
	// IdleTimeout is how long a session may go without a new chunk before
	// Expire fails it. Zero never expires sessions.
	IdleTimeout time.Duration
	Logger      *slog.Logger
	OnProgress     func(Progress)
	OnComplete     func(Result)
	Now            func() time.Time
}

type session struct {
	start      Start
	slots      [][]byte
	filled     []bool
	received   int
	senderDone bool
	startedAt  time.Time
	lastChunk  time.Time
}

func (s *session) progress() Progress {
	return Progress{TransferID: s.start.TransferID, Received: s.received, Total: len(s.slots)}
}

// incomplete describes a session that ended with empty slots.
func (s *session) incomplete() error {
	if s.senderDone {
		return fmt.Errorf("%w: %d of %d chunks, sender already sent its last chunk", ErrIncomplete, s.received, len(s.slots))
	}
	return fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, s.received, len(s.slots))
}

func (s *session) missing() []int {
	var out []int
	for i, ok := range s.filled {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

// Coordinator tracks in-flight transfers for one receiving client. It is
// safe for concurrent use; callbacks run without the lock held.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*session
	owners   *OwnerIndex
	opts     Options
	logger   *slog.Logger
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator(opts Options) *Coordinator {
	if opts.MaxTotalChunks <= 0 {
		opts.MaxTotalChunks = defaultMaxTotalChunks
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sessions: make(map[string]*session),
		owners:   NewOwnerIndex(),
		opts:     opts,
		logger:   logger,
	}
}

// Policy returns the completion policy in effect.
func (c *Coordinator) Policy() CompletionPolicy {
	return c.opts.Policy
}

// Begin opens a session for s.TransferID.
func (c *Coordinator) Begin(s Start) error {
	if s.TransferID == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownTransfer)
	}
	if s.TotalChunks <= 0 || s.TotalChunks > c.opts.MaxTotalChunks {
		return fmt.Errorf("%w: %d (max %d)", ErrTooManyChunks, s.TotalChunks, c.opts.MaxTotalChunks)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[s.TransferID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTransfer, s.TransferID)
	}
	if len(c.sessions) >= c.opts.MaxSessions {
		return fmt.Errorf("%w: %d", ErrTooManySessions, len(c.sessions))
	}

	now := c.opts.Now()
	c.sessions[s.TransferID] = &session{
		start:     s,
		slots:     make([][]byte, s.TotalChunks),
		filled:    make([]bool, s.TotalChunks),
		startedAt: now,
		lastChunk: now,
	}
	c.owners.Add(s.TransferID, s.Sender, s.Receiver)

	c.logger.Debug("transfer started",
		"transfer_id", s.TransferID,
		"file_name", s.FileName,
		"file_size", s.FileSize,
		"total_chunks", s.TotalChunks,
		"sender", s.Sender)
	return nil
}

// Chunk stores data at index. A chunk for an index that is already filled
// is ignored. When the chunk completes the session, the completion callback
// has run by the time Chunk returns.
func (c *Coordinator) Chunk(transferID string, index int, data []byte, isLast bool) (Progress, error) {
	c.mu.Lock()
	s, ok := c.sessions[transferID]
	if !ok {
		c.mu.Unlock()
		return Progress{}, fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	if index < 0 || index >= len(s.slots) {
		c.mu.Unlock()
		return s.progress(), fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, index, len(s.slots))
	}

	if !s.filled[index] {
		s.slots[index] = append([]byte(nil), data...)
		s.filled[index] = true
		s.received++
	}
	s.lastChunk = c.opts.Now()
	if isLast {
		s.senderDone = true
	}
	progress := s.progress()

	done := s.received == len(s.slots) || (isLast && c.opts.Policy == Permissive)
	if done {
		c.detach(transferID)
	}
	c.mu.Unlock()

	if c.opts.OnProgress != nil {
		c.opts.OnProgress(progress)
	}
	if done {
		c.finish(s, nil)
	}
	return progress, nil
}

// Finish handles an explicit end-of-transfer signal from the sender. Under
// Strict a session with empty slots fails with ErrIncomplete; under
// Permissive it completes with the gaps reported.
func (c *Coordinator) Finish(transferID string) error {
	c.mu.Lock()
	s, ok := c.sessions[transferID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	c.detach(transferID)
	c.mu.Unlock()

	var err error
	if c.opts.Policy == Strict && s.received < len(s.slots) {
		err = s.incomplete()
	}
	c.finish(s, err)
	return err
}

// Cancel removes transferID without completing it. The completion callback
// receives a Result wrapping ErrCancelled. Cancel reports whether a session
// was removed.
func (c *Coordinator) Cancel(transferID string, reason string) bool {
	c.mu.Lock()
	s, ok := c.sessions[transferID]
	if ok {
		c.detach(transferID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	if reason == "" {
		reason = "cancelled"
	}
	c.deliver(s, Result{Err: fmt.Errorf("%w: %s", ErrCancelled, reason)})
	return true
}

// CancelOwner cancels every session clientID sends or receives and returns
// their ids.
func (c *Coordinator) CancelOwner(clientID string, reason string) []string {
	c.mu.Lock()
	owned := c.owners.Owned(clientID)
	c.mu.Unlock()

	cancelled := make([]string, 0, len(owned))
	for _, id := range owned {
		if c.Cancel(id, reason) {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// Expire fails every session that has gone Options.IdleTimeout without a
// chunk and returns their ids. A session whose sender already flagged its
// last chunk fails with ErrIncomplete, any other with ErrStalled.
func (c *Coordinator) Expire() []string {
	if c.opts.IdleTimeout <= 0 {
		return nil
	}

	c.mu.Lock()
	now := c.opts.Now()
	var expired []*session
	for id, s := range c.sessions {
		if now.Sub(s.lastChunk) >= c.opts.IdleTimeout {
			c.detach(id)
			expired = append(expired, s)
		}
	}
	c.mu.Unlock()

	slices.SortFunc(expired, func(a, b *session) int {
		return strings.Compare(a.start.TransferID, b.start.TransferID)
	})
	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		err := fmt.Errorf("%w: no chunk for %s", ErrStalled, c.opts.IdleTimeout)
		if s.senderDone {
			err = s.incomplete()
		}
		c.deliver(s, Result{Missing: s.missing(), Err: err})
		ids = append(ids, s.start.TransferID)
	}
	return ids
}

// Active returns the progress of an in-flight transfer.
func (c *Coordinator) Active(transferID string) (Progress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[transferID]
	if !ok {
		return Progress{}, false
	}
	return s.progress(), true
}

// Len returns the number of in-flight transfers.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// detach removes the session from both maps. Callers hold c.mu. Because a
// detached session can no longer be looked up, whoever detaches it is the
// only caller that will ever finish it.
func (c *Coordinator) detach(transferID string) {
	delete(c.sessions, transferID)
	c.owners.Remove(transferID)
}

func (c *Coordinator) finish(s *session, err error) {
	data := Reassemble(s.slots)
	missing := s.missing()

	if err == nil && s.start.Checksum != "" && len(missing) == 0 {
		if got := Checksum(data); got != s.start.Checksum {
			err = fmt.Errorf("%w: got %s want %s", ErrChecksumMismatch, got, s.start.Checksum)
		}
	}

	c.deliver(s, Result{Data: data, Missing: missing, Err: err})
}

func (c *Coordinator) deliver(s *session, r Result) {
	r.TransferID = s.start.TransferID
	r.FileName = s.start.FileName
	r.Sender = s.start.Sender
	r.Duration = c.opts.Now().Sub(s.startedAt)

	if r.Err != nil {
		c.logger.Info("transfer failed", "transfer_id", r.TransferID, "error", r.Err)
	} else {
		c.logger.Info("transfer complete",
			"transfer_id", r.TransferID,
			"bytes", len(r.Data),
			"missing", len(r.Missing),
			"duration", r.Duration)
	}

	if c.opts.OnComplete != nil {
		c.opts.OnComplete(r)
	}
}

// Reassemble concatenates slots in index order. Nil slots contribute
// nothing.
func Reassemble(slots [][]byte) []byte {
	size := 0
	for _, slot := range slots {
		size += len(slot)
	}
	out := make([]byte, 0, size)
	for _, slot := range slots {
		out = append(out, slot...)
	}
	return out
}

// Checksum returns the hex BLAKE3-256 digest of data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
