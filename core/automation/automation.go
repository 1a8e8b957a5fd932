// Package automation drives computer-use call chains: it executes the
// actions a response asks for, sends the captured result back and repeats
// until the chain settles, hits a safety limit or needs a human decision.
package automation

import (
	"context"
	"errors"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
)

var (
	ErrIterationLimit   = errors.New("automation iteration limit reached")
	ErrWaitLoop         = errors.New("automation kept waiting")
	ErrScreenshotLoop   = errors.New("automation requested a duplicate screenshot")
	ErrCancelled        = errors.New("automation cancelled")
	ErrApprovalNotFound = errors.New("no pending automation approval with that id")
	ErrBusy             = errors.New("automation loop already running")
)

// Aborted reports whether err is one of the controlled stops of the loop.
// Such stops have already been reported to the user.
func Aborted(err error) bool {
	return errors.Is(err, ErrIterationLimit) ||
		errors.Is(err, ErrWaitLoop) ||
		errors.Is(err, ErrScreenshotLoop) ||
		errors.Is(err, ErrCancelled)
}

type State string

const (
	StateIdle             State = "idle"
	StateAwaitingOutput   State = "awaiting_output"
	StateExecuting        State = "executing"
	StateAwaitingApproval State = "awaiting_approval"
	StateAborted          State = "aborted"
)

// Output is the result of one action sent back to the remote call.
type Output struct {
	PreviousResponseID llms.ResponseID
	CallID             llms.CallID
	Screenshot         []byte
	Acknowledged       []llms.SafetyCheck
}

// Backend is the remote side of the chain. Every call counts as one fetch.
type Backend interface {
	Retrieve(ctx context.Context, id llms.ResponseID) (*events.Response, error)
	SendOutput(ctx context.Context, output Output) (*events.Response, error)
}

type Result struct {
	Screenshot []byte
	URL        string
}

// Executor operates the controlled surface.
type Executor interface {
	Execute(ctx context.Context, action events.Action) (Result, error)
	Navigate(ctx context.Context, url string) (Result, error)
	CurrentURL(ctx context.Context) (string, error)
}

// Host is the turn state the controller reads and mutates. Implementations
// serialize these calls with the rest of the turn.
type Host interface {
	MessageID() llms.MessageID
	LastResponseID() llms.ResponseID
	SetLastResponseID(id llms.ResponseID)
	SetAwaiting(awaiting bool)
	AppendNotice(text string)
	AttachScreenshot(ref llms.MediaRef)
	HasCapturedResult() bool
	RequestApproval(pending Pending)
	// Settled receives the response that ended the chain without a further
	// computer call.
	Settled(response *events.Response)
	// Instruction is the user text that started the turn.
	Instruction() string
	Cancelled() bool
}

// Pending is an action held back until its safety checks are acknowledged.
type Pending struct {
	ID                 string
	Checks             []llms.SafetyCheck
	CallID             llms.CallID
	Action             events.Action
	PreviousResponseID llms.ResponseID
	MessageID          llms.MessageID
}
