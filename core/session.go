package orchestration

import (
	"context"

	"github.com/koscakluka/ema-relay/core/llms"
	"github.com/koscakluka/ema-relay/core/tools"
)

type retryState struct {
	attemptsRemaining int
	scheduled         bool
}

type pendingFunction struct {
	itemID    string
	callID    llms.CallID
	name      string
	arguments string
}

// turnSession is the transient state of one user turn. It is created when a
// message is sent and superseded by the next one.
type turnSession struct {
	id        llms.SessionID
	messageID llms.MessageID

	userText       string
	request        llms.Request
	baseResponseID llms.ResponseID
	servers        []ServerConfig

	ctx    context.Context
	cancel context.CancelFunc

	// active is false once the turn settled; events for it are dropped.
	active bool
	// generation identifies the current stream. Results from older streams
	// are ignored.
	generation int
	terminal   bool
	sawText    bool

	retry                    *retryState
	awaitingAutomationOutput bool
	placeholder              string

	deltas        *deltaBuffer
	calls         *tools.CallTracker
	labels        *tools.LabelResolver
	functionCalls []pendingFunction

	signatures  map[string]struct{}
	annotations map[string]struct{}
	notices     map[string]struct{}
	revoked     map[string]bool
}

func (o *Orchestrator) newTurnSession(messageID llms.MessageID, userText string, request llms.Request, servers []ServerConfig) *turnSession {
	ctx, cancel := context.WithCancel(o.baseContext)
	s := &turnSession{
		id:             llms.NewSessionID(),
		messageID:      messageID,
		userText:       userText,
		request:        request,
		baseResponseID: request.PreviousResponseID,
		servers:        servers,
		ctx:            ctx,
		cancel:         cancel,
		active:         true,
		calls:          tools.NewCallTracker(o.registry.InputSchema),
		signatures:     map[string]struct{}{},
		annotations:    map[string]struct{}{},
		notices:        map[string]struct{}{},
		revoked:        map[string]bool{},
	}

	var label, connector string
	if len(servers) == 1 {
		label, connector = servers[0].Label, servers[0].ConnectorID
	}
	s.labels = tools.NewLabelResolver(label, connector)

	if o.config.Streaming && o.config.RetryAttempts > 0 {
		s.retry = &retryState{attemptsRemaining: o.config.RetryAttempts}
	}

	s.deltas = newDeltaBuffer(
		o.config.CoalesceMinLength,
		o.config.CoalesceQuietPeriod,
		o.afterFunc,
		o.lane.post,
		func(text string) { o.commitText(s, text) },
	)
	return s
}

// restartContext cancels in-flight work and gives the session a fresh
// context for the next stream.
func (s *turnSession) restartContext(base context.Context) {
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(base)
}

func (s *turnSession) shutdown() {
	s.cancel()
	s.deltas.Discard()
	s.generation++
	s.active = false
	s.awaitingAutomationOutput = false
}

func (s *turnSession) resolveLabel(eventLabel, itemLabel, fallbackID string) string {
	label, _ := s.labels.Resolve(eventLabel, itemLabel, fallbackID)
	return label
}

func (s *turnSession) revokedIntegration() string {
	for label, revoked := range s.revoked {
		if revoked {
			return label
		}
	}
	return ""
}

// commitText appends coalesced text to the assistant message, replacing an
// approval placeholder if one is still showing.
func (o *Orchestrator) commitText(s *turnSession, text string) {
	msg := o.message(s.messageID)
	if msg == nil {
		return
	}
	if s.placeholder != "" {
		if msg.Text == s.placeholder {
			msg.Text = ""
		}
		s.placeholder = ""
	}
	msg.AppendText(text)
	o.commit()
}
