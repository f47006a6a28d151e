// Package action defines the deferred, human-confirmable unit of work that
// flows from the RPC layer through the broker.
package action

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/reva/bridge/internal/resource"
)

// State is the resolution state of an Action.
type State int32

const (
	Pending State = iota
	Accepted
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Accepted:
		return "ACCEPTED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Action is immutable after Build except for its resolution state, which
// moves from Pending to Accepted or Rejected once.
type Action struct {
	id          string
	name        string
	description string
	location    resource.Location
	gateway     resource.Gateway
	createdAt   time.Time
	onAccepted  func() error
	onRejected  func(reason string)
	state       atomic.Int32
}

func (a *Action) ID() string                  { return a.id }
func (a *Action) Name() string                { return a.name }
func (a *Action) Description() string         { return a.description }
func (a *Action) Location() resource.Location { return a.location }
func (a *Action) Gateway() resource.Gateway   { return a.gateway }
func (a *Action) CreatedAt() time.Time        { return a.createdAt }

// State reports the current resolution state.
func (a *Action) State() State {
	return State(a.state.Load())
}

// Accept runs the accepted-work. It returns *AlreadyResolvedError if the
// action was resolved before, otherwise whatever the work returns. A panic
// in the work comes back as *WorkPanicError.
func (a *Action) Accept() (err error) {
	if !a.state.CompareAndSwap(int32(Pending), int32(Accepted)) {
		return &AlreadyResolvedError{ID: a.id, State: a.State()}
	}
	defer a.recoverWork(&err)
	return a.onAccepted()
}

// Reject runs the rejected-work with the reviewer's reason.
func (a *Action) Reject(reason string) (err error) {
	if !a.state.CompareAndSwap(int32(Pending), int32(Rejected)) {
		return &AlreadyResolvedError{ID: a.id, State: a.State()}
	}
	defer a.recoverWork(&err)
	a.onRejected(reason)
	return nil
}

func (a *Action) recoverWork(err *error) {
	if r := recover(); r != nil {
		*err = &WorkPanicError{ID: a.id, Value: r}
	}
}

// Summary is the reviewer-facing view of a pending action.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Symbol      string    `json:"symbol,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Sequence    uint64    `json:"sequence"`
}

// Summarize builds the summary for a given submission sequence number.
func (a *Action) Summarize(seq uint64, submittedAt time.Time) Summary {
	return Summary{
		ID:          a.id,
		Name:        a.name,
		Description: a.description,
		Location:    a.location.String(),
		Symbol:      a.location.Symbol,
		SubmittedAt: submittedAt,
		Sequence:    seq,
	}
}

// ConfigurationError is returned by Build when a required field is unset.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("action: %s is required", e.Field)
}

// AlreadyResolvedError is returned when an action is resolved twice.
type AlreadyResolvedError struct {
	ID    string
	State State
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("action %s already resolved (%s)", e.ID, e.State)
}

// WorkPanicError reports a panic raised by an accepted- or rejected-work.
// The action is resolved regardless.
type WorkPanicError struct {
	ID    string
	Value interface{}
}

func (e *WorkPanicError) Error() string {
	return fmt.Sprintf("action %s: work panicked: %v", e.ID, e.Value)
}

// Builder assembles an Action. The zero value is not usable; call NewBuilder.
type Builder struct {
	a           Action
	hasLocation bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Gateway(g resource.Gateway) *Builder {
	b.a.gateway = g
	return b
}

func (b *Builder) Location(loc resource.Location) *Builder {
	b.a.location = loc
	b.hasLocation = true
	return b
}

func (b *Builder) Name(name string) *Builder {
	b.a.name = name
	return b
}

func (b *Builder) Description(description string) *Builder {
	b.a.description = description
	return b
}

func (b *Builder) OnAccepted(fn func() error) *Builder {
	b.a.onAccepted = fn
	return b
}

func (b *Builder) OnRejected(fn func(reason string)) *Builder {
	b.a.onRejected = fn
	return b
}

// Build validates the collected fields and returns a new pending Action.
func (b *Builder) Build() (*Action, error) {
	switch {
	case b.a.gateway == nil:
		return nil, &ConfigurationError{Field: "gateway"}
	case !b.hasLocation:
		return nil, &ConfigurationError{Field: "location"}
	case b.a.name == "":
		return nil, &ConfigurationError{Field: "name"}
	case b.a.description == "":
		return nil, &ConfigurationError{Field: "description"}
	case b.a.onAccepted == nil:
		return nil, &ConfigurationError{Field: "on_accepted"}
	case b.a.onRejected == nil:
		return nil, &ConfigurationError{Field: "on_rejected"}
	}

	a := &Action{
		id:          uuid.New().String(),
		name:        b.a.name,
		description: b.a.description,
		location:    b.a.location,
		gateway:     b.a.gateway,
		createdAt:   time.Now(),
		onAccepted:  b.a.onAccepted,
		onRejected:  b.a.onRejected,
	}
	return a, nil
}
