package llms

import "github.com/google/uuid"

// SessionID identifies one turn session. Events carry the id of the session
// that requested them so stale streams can be told apart from the live one.
type SessionID string

type MessageID string

// ResponseID is the remote id of a single response in a call chain.
type ResponseID string

type CallID string

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

func NewMessageID() MessageID { return MessageID(uuid.NewString()) }

func NewApprovalID() string { return "apr_" + uuid.NewString() }
