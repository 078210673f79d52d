package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Thread is one independent conversation and its pause point.
type Thread struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`

	// Pending is the sensitive tool call waiting for user confirmation.
	// A thread has at most one.
	Pending *ToolCall `json:"pending,omitempty"`

	// Version is incremented by every successful commit.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewThread returns an empty, idle thread.
func NewThread(id string) *Thread {
	return &Thread{ID: id}
}

// State derives the confirmation state from the pending marker.
func (t *Thread) State() State {
	if t.Pending != nil {
		return StateAwaitingConfirmation
	}
	return StateIdle
}

// Append adds a message to the end of the thread. Tool results must answer a
// tool call made by an earlier assistant message that has not been answered
// yet.
func (t *Thread) Append(msg Message) error {
	if msg.Role == RoleTool {
		if msg.ToolCallID == "" {
			return fmt.Errorf("%w: tool result without tool_call_id", ErrProtocol)
		}
		if !t.hasOpenCall(msg.ToolCallID) {
			return fmt.Errorf("%w: tool result %q does not match an open tool call", ErrProtocol, msg.ToolCallID)
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	t.Messages = append(t.Messages, msg)
	return nil
}

// SetPending marks call as the thread's pending invocation.
func (t *Thread) SetPending(call ToolCall) error {
	if t.Pending != nil {
		return fmt.Errorf("%w: thread %s already has pending call %s", ErrProtocol, t.ID, t.Pending.ID)
	}
	if !t.hasOpenCall(call.ID) {
		return fmt.Errorf("%w: pending call %q was never requested", ErrProtocol, call.ID)
	}
	c := call
	t.Pending = &c
	return nil
}

// Validate checks the message ordering of a thread loaded from storage.
func (t *Thread) Validate() error {
	replay := &Thread{ID: t.ID}
	for _, m := range t.Messages {
		if err := replay.Append(m); err != nil {
			return err
		}
	}
	if t.Pending != nil && !replay.hasOpenCall(t.Pending.ID) {
		return fmt.Errorf("%w: pending call %q has no open request", ErrProtocol, t.Pending.ID)
	}
	return nil
}

// Clone returns a deep copy that can be mutated without affecting t.
func (t *Thread) Clone() *Thread {
	c := *t
	c.Messages = make([]Message, len(t.Messages))
	for i, m := range t.Messages {
		c.Messages[i] = cloneMessage(m)
	}
	if t.Pending != nil {
		p := cloneCall(*t.Pending)
		c.Pending = &p
	}
	return &c
}

// hasOpenCall reports whether id was requested by an assistant message and
// not yet answered by a tool result. A later request may reuse an answered id.
func (t *Thread) hasOpenCall(id string) bool {
	open := false
	for _, m := range t.Messages {
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				if tc.ID == id {
					open = true
				}
			}
		case RoleTool:
			if m.ToolCallID == id {
				open = false
			}
		}
	}
	return open
}

func cloneMessage(m Message) Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = cloneCall(tc)
		}
		m.ToolCalls = calls
	}
	return m
}

func cloneCall(tc ToolCall) ToolCall {
	if tc.Arguments != nil {
		tc.Arguments = append(json.RawMessage(nil), tc.Arguments...)
	}
	return tc
}
