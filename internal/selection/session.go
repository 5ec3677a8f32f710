package selection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callscript/internal/candidates"
	"callscript/internal/commands"
	"callscript/internal/observability"
)

// Enqueuer accepts background persistence commands.
type Enqueuer interface {
	Enqueue(cmd commands.Command) error
}

// Where a restored index came from.
const (
	SourceNone   = "none"
	SourceLocal  = "local"
	SourceStored = "stored"
)

type Restored struct {
	Index     int    `json:"index"`
	Length    int    `json:"length"`
	Source    string `json:"source"`
	Corrected bool   `json:"corrected"`
	Guarded   bool   `json:"guarded"`
}

type SessionOption func(*Session)

// WithDebounce sets how long corrective writes wait to coalesce.
func WithDebounce(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithCycleGuard sets the safety timeout after which a cycle stops suppressing
// revalidation even if its write has not completed.
func WithCycleGuard(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.guardTTL = d
		}
	}
}

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// Session owns one agent's view state: the index shown per step, debounced
// corrections and cycle guards. Local state changes synchronously; writes go
// through the queue and are never rolled back.
type Session struct {
	userID   string
	manager  *Manager
	queue    Enqueuer
	debounce time.Duration
	guardTTL time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu          sync.Mutex
	local       map[string]int
	pending     map[string]int
	corrections map[string]*correction
	guards      map[string]*guard
	seq         uint64
	closed      bool
	lastUsed    time.Time
}

type correction struct {
	seq    uint64
	length int
	timer  *time.Timer
}

type guard struct {
	seq   uint64
	timer *time.Timer
}

func NewSession(userID string, manager *Manager, queue Enqueuer, opts ...SessionOption) *Session {
	s := &Session{
		userID:      userID,
		manager:     manager,
		queue:       queue,
		debounce:    400 * time.Millisecond,
		guardTTL:    2 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
		local:       map[string]int{},
		pending:     map[string]int{},
		corrections: map[string]*correction{},
		guards:      map[string]*guard{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastUsed = s.now()
	return s
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Current returns the index shown for the step, if the session has one.
func (s *Session) Current(stepName string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.local[stepName]
	return idx, ok
}

// Load is the initial view of a step: the stored selection is read again so a
// pinned default reappears. Local state is kept only while a write for the step is
// still in flight or a cycle guard is active.
func (s *Session) Load(ctx context.Context, stepName string, length int) (Restored, error) {
	s.mu.Lock()
	if s.pending[stepName] == 0 && s.guards[stepName] == nil {
		delete(s.local, stepName)
	}
	s.mu.Unlock()
	return s.Restore(ctx, stepName, length)
}

// Restore revalidates the step's index against a freshly built list of length
// candidates. An out-of-range index is clamped for this pass and a debounced
// correction is scheduled, unless a cycle guard is active for the step.
func (s *Session) Restore(ctx context.Context, stepName string, length int) (Restored, error) {
	if length <= 0 {
		return Restored{Source: SourceNone}, nil
	}

	s.mu.Lock()
	s.lastUsed = s.now()
	if idx, ok := s.local[stepName]; ok {
		r := s.revalidateLocked(stepName, idx, length)
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	sel, found, err := s.manager.Get(ctx, s.userID, stepName)
	if err != nil {
		return Restored{Length: length, Source: SourceNone}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.local[stepName]; ok {
		// a cycle landed while the store was being read
		return s.revalidateLocked(stepName, idx, length), nil
	}
	r := Restored{Length: length, Source: SourceNone, Guarded: s.guards[stepName] != nil}
	if found {
		r.Index, r.Corrected = sel.Effective(length)
		r.Source = SourceStored
	}
	s.local[stepName] = r.Index
	if r.Corrected {
		s.scheduleCorrectionLocked(stepName, length)
	}
	return r, nil
}

func (s *Session) revalidateLocked(stepName string, idx, length int) Restored {
	r := Restored{Index: idx, Length: length, Source: SourceLocal, Guarded: s.guards[stepName] != nil}
	if idx >= length {
		r.Index = candidates.Clamp(idx, length)
		r.Corrected = true
		s.local[stepName] = r.Index
		s.scheduleCorrectionLocked(stepName, length)
	}
	return r
}

// Cycle advances to the next candidate, wrapping at the end, and returns the new
// index. Revalidation for the step is suppressed until the write completes or the
// guard times out.
func (s *Session) Cycle(ctx context.Context, stepName string, length int) int {
	if length <= 0 {
		return 0
	}
	s.mu.Lock()
	_, known := s.local[stepName]
	s.mu.Unlock()
	if !known {
		if _, err := s.Restore(ctx, stepName, length); err != nil {
			s.logger.Warn("restore before cycle failed", "user_id", s.userID, "step", stepName, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	next := (candidates.Clamp(s.local[stepName], length) + 1) % length
	s.local[stepName] = next
	s.cancelCorrectionLocked(stepName)
	seq := s.armGuardLocked(stepName)
	s.metrics.RecordCycle(ctx)

	userID := s.userID
	s.enqueueLocked(stepName, commands.Command{
		Name:    "selection.cycle",
		UserID:  userID,
		Failure: "Your script selection could not be saved.",
		Run: func(ctx context.Context) error {
			_, err := s.manager.SetSelected(ctx, userID, stepName, next, length)
			return err
		},
		Done: func(error) { s.releaseGuard(stepName, seq) },
	})
	return next
}

// Select shows the candidate at index and persists it as the current choice.
func (s *Session) Select(stepName string, index, length int) error {
	if length <= 0 || index < 0 || index >= length {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, length)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	s.local[stepName] = index
	s.cancelCorrectionLocked(stepName)

	userID := s.userID
	s.enqueueLocked(stepName, commands.Command{
		Name:    "selection.select",
		UserID:  userID,
		Failure: "Your script selection could not be saved.",
		Run: func(ctx context.Context) error {
			_, err := s.manager.SetSelected(ctx, userID, stepName, index, length)
			return err
		},
	})
	return nil
}

// SetDefault shows the candidate at index and pins it as the agent's default.
func (s *Session) SetDefault(stepName string, index, length int) error {
	if length <= 0 || index < 0 || index >= length {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, length)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	s.local[stepName] = index
	s.cancelCorrectionLocked(stepName)

	userID := s.userID
	s.enqueueLocked(stepName, commands.Command{
		Name:    "selection.default",
		UserID:  userID,
		Failure: "Your default script could not be saved.",
		Run: func(ctx context.Context) error {
			_, err := s.manager.SetDefault(ctx, userID, stepName, index, length)
			return err
		},
	})
	return nil
}

// Flush hands every pending debounced correction to the queue now.
func (s *Session) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for step, c := range s.corrections {
		c.timer.Stop()
		delete(s.corrections, step)
		s.enqueueCorrectionLocked(step, c.length)
	}
}

// Close cancels pending timers. Commands already queued still run; nothing new
// is scheduled afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for step, c := range s.corrections {
		c.timer.Stop()
		delete(s.corrections, step)
	}
	for step, g := range s.guards {
		g.timer.Stop()
		delete(s.guards, step)
	}
}

func (s *Session) scheduleCorrectionLocked(stepName string, length int) {
	if s.closed || s.guards[stepName] != nil {
		return
	}
	if c, ok := s.corrections[stepName]; ok {
		c.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.corrections[stepName] = &correction{
		seq:    seq,
		length: length,
		timer:  time.AfterFunc(s.debounce, func() { s.fireCorrection(stepName, seq) }),
	}
}

func (s *Session) fireCorrection(stepName string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.corrections[stepName]
	if !ok || c.seq != seq || s.closed {
		return
	}
	delete(s.corrections, stepName)
	s.enqueueCorrectionLocked(stepName, c.length)
}

func (s *Session) enqueueCorrectionLocked(stepName string, length int) {
	s.logger.Warn("selection index out of range, clamping",
		"user_id", s.userID, "step", stepName, "length", length)
	s.metrics.RecordCorrection(context.Background())

	userID := s.userID
	s.enqueueLocked(stepName, commands.Command{
		Name:    "selection.clamp",
		UserID:  userID,
		Failure: "A corrected script selection could not be saved.",
		Run: func(ctx context.Context) error {
			_, _, err := s.manager.Clamp(ctx, userID, stepName, length)
			return err
		},
	})
}

func (s *Session) cancelCorrectionLocked(stepName string) {
	if c, ok := s.corrections[stepName]; ok {
		c.timer.Stop()
		delete(s.corrections, stepName)
	}
}

func (s *Session) armGuardLocked(stepName string) uint64 {
	if g, ok := s.guards[stepName]; ok {
		g.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.guards[stepName] = &guard{
		seq:   seq,
		timer: time.AfterFunc(s.guardTTL, func() { s.releaseGuard(stepName, seq) }),
	}
	return seq
}

func (s *Session) releaseGuard(stepName string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guards[stepName]; ok && g.seq == seq {
		g.timer.Stop()
		delete(s.guards, stepName)
	}
}

// Guarded reports whether a cycle guard is active for the step.
func (s *Session) Guarded(stepName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guards[stepName] != nil
}

func (s *Session) enqueueLocked(stepName string, cmd commands.Command) {
	if s.closed {
		if cmd.Done != nil {
			go cmd.Done(commands.ErrClosed)
		}
		return
	}
	s.pending[stepName]++
	done := cmd.Done
	cmd.Done = func(err error) {
		s.mu.Lock()
		if s.pending[stepName]--; s.pending[stepName] <= 0 {
			delete(s.pending, stepName)
		}
		s.mu.Unlock()
		if done != nil {
			done(err)
		}
	}
	if err := s.queue.Enqueue(cmd); err != nil {
		if s.pending[stepName]--; s.pending[stepName] <= 0 {
			delete(s.pending, stepName)
		}
		s.logger.Warn("selection write not queued", "user_id", s.userID, "step", stepName, "error", err)
		if done != nil {
			go done(err)
		}
	}
}
