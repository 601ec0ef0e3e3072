package transfer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultResetDelay is how long a successful form stays visible before it clears.
const DefaultResetDelay = 3 * time.Second

// ErrSubmitInFlight is returned when Submit or Close is called mid-submission.
var ErrSubmitInFlight = errors.New("a transfer is already being submitted")

// State is the caller-facing lifecycle of a transfer form.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Runner executes a transfer attempt. *Transferer satisfies it.
type Runner interface {
	Transfer(ctx context.Context, session Session, req Request) Outcome
}

// FormOption configures a Form.
type FormOption func(*Form)

// WithResetDelay sets how long after a success the form clears itself.
// Zero disables the automatic reset.
func WithResetDelay(d time.Duration) FormOption {
	return func(f *Form) { f.resetDelay = d }
}

// WithOnReset registers a callback fired after the automatic post-success reset.
func WithOnReset(fn func()) FormOption {
	return func(f *Form) { f.onReset = fn }
}

// Form holds a caller's in-progress transfer input and drives it through
// Idle -> Validating -> Submitting -> Succeeded|Failed. Submit is the only
// transition with side effects. Form is safe for concurrent use.
type Form struct {
	runner  Runner
	session Session

	resetDelay time.Duration
	onReset    func()

	mu         sync.Mutex
	state      State
	open       bool
	recipient  string
	amount     string
	asset      AssetRef
	balance    *string
	outcome    *Outcome
	resetTimer *time.Timer
	generation uint64
}

// NewForm creates an open, idle form bound to a wallet session.
func NewForm(runner Runner, session Session, opts ...FormOption) *Form {
	f := &Form{
		runner:     runner,
		session:    session,
		resetDelay: DefaultResetDelay,
		open:       true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Form) SetRecipient(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipient = s
}

func (f *Form) SetAmount(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amount = s
}

func (f *Form) SetAsset(a AssetRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asset = a
}

// SetBalance sets the known balance in display units; nil removes the bound.
func (f *Form) SetBalance(b *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = b
}

// State returns the current state.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsOpen reports whether the form is still shown to the user.
func (f *Form) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Fields returns the current recipient and amount input.
func (f *Form) Fields() (recipient, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recipient, f.amount
}

// Outcome returns the last terminal outcome, if any.
func (f *Form) Outcome() *Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcome == nil {
		return nil
	}
	o := *f.outcome
	return &o
}

// Submit validates the current input and, if it passes, runs one transfer.
// Validation failures move straight to Failed without touching the network.
func (f *Form) Submit(ctx context.Context) (Outcome, error) {
	f.mu.Lock()
	if f.state == StateSubmitting || f.state == StateValidating {
		f.mu.Unlock()
		return Outcome{}, ErrSubmitInFlight
	}
	f.stopResetLocked()
	f.state = StateValidating
	f.outcome = nil
	req := Request{Recipient: f.recipient, Amount: f.amount, Asset: f.asset, Balance: f.balance}

	if f.session == nil {
		return f.finishLocked(Failure(errNoWallet())), nil
	}
	if _, err := CheckAddress(req.Recipient); err != nil {
		return f.finishLocked(Failure(err)), nil
	}
	if _, err := CheckAmount(req.Amount, req.Balance); err != nil {
		return f.finishLocked(Failure(err)), nil
	}

	f.state = StateSubmitting
	f.mu.Unlock()

	outcome := f.runner.Transfer(ctx, f.session, req)

	f.mu.Lock()
	return f.finishLocked(outcome), nil
}

// finishLocked records a terminal outcome and releases the lock.
func (f *Form) finishLocked(outcome Outcome) Outcome {
	defer f.mu.Unlock()
	f.outcome = &outcome
	if !outcome.Succeeded() {
		f.state = StateFailed
		return outcome
	}
	f.state = StateSucceeded
	if f.resetDelay > 0 {
		f.generation++
		gen := f.generation
		f.resetTimer = time.AfterFunc(f.resetDelay, func() { f.autoReset(gen) })
	}
	return outcome
}

func (f *Form) autoReset(gen uint64) {
	f.mu.Lock()
	if gen != f.generation || f.state != StateSucceeded {
		f.mu.Unlock()
		return
	}
	f.clearLocked()
	f.open = false
	onReset := f.onReset
	f.mu.Unlock()

	if onReset != nil {
		onReset()
	}
}

// Reset clears input and returns the form to Idle.
func (f *Form) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSubmitting {
		return ErrSubmitInFlight
	}
	f.stopResetLocked()
	f.clearLocked()
	return nil
}

// Close dismisses the form. It is refused while a submission is running.
func (f *Form) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSubmitting {
		return ErrSubmitInFlight
	}
	f.stopResetLocked()
	f.clearLocked()
	f.open = false
	return nil
}

func (f *Form) clearLocked() {
	f.state = StateIdle
	f.recipient = ""
	f.amount = ""
	f.outcome = nil
}

func (f *Form) stopResetLocked() {
	f.generation++
	if f.resetTimer != nil {
		f.resetTimer.Stop()
		f.resetTimer = nil
	}
}
