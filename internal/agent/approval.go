package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ApprovalMode controls how tool approvals from a sub-agent are resolved.
type ApprovalMode string

const (
	// ApprovalAutonomous resolves every approval locally with the default
	// action. This is the default and preserves fully unattended runs.
	ApprovalAutonomous ApprovalMode = "autonomous"

	// ApprovalBubbleAll forwards every request to the parent agent's
	// confirmation channel and awaits a decision.
	ApprovalBubbleAll ApprovalMode = "bubble_all"

	// ApprovalBubbleFiltered bubbles only the listed tool names; the rest
	// resolve locally with the default action.
	ApprovalBubbleFiltered ApprovalMode = "bubble_filtered"
)

// Decision is the outcome of an approval request.
type Decision string

const (
	Approved Decision = "approved"
	Denied   Decision = "denied"
)

// ApprovalRequest is one bubbled confirmation. The parent answers on the
// per-request reply channel; a request is destroyed once matched by id.
type ApprovalRequest struct {
	RequestID string
	ToolName  string
	reply     chan Decision
}

// Respond delivers the parent's decision. It never blocks: the reply
// channel is buffered and only the first response counts.
func (r *ApprovalRequest) Respond(d Decision) {
	select {
	case r.reply <- d:
	default:
	}
}

// ApprovalPolicy configures a Bubbler.
type ApprovalPolicy struct {
	Mode    ApprovalMode
	Tools   []string      // tool names that bubble in filtered mode
	Default Decision      // action when resolving locally or on timeout
	Wait    time.Duration // bounded wait for a parent decision
}

// Bubbler forwards tool-approval requests from a sub-agent to its parent
// over a bounded channel, keeping the sub-agent's execution decoupled from
// parent scheduling. An unanswered request resolves to the policy default
// after the bounded wait instead of hanging.
type Bubbler struct {
	policy   ApprovalPolicy
	requests chan *ApprovalRequest
}

// NewBubbler creates a bubbler. Zero-value policy fields get safe defaults:
// autonomous mode, approve, 30 second wait.
func NewBubbler(policy ApprovalPolicy) *Bubbler {
	if policy.Mode == "" {
		policy.Mode = ApprovalAutonomous
	}
	if policy.Default == "" {
		policy.Default = Approved
	}
	if policy.Wait <= 0 {
		policy.Wait = 30 * time.Second
	}
	return &Bubbler{
		policy:   policy,
		requests: make(chan *ApprovalRequest, 16),
	}
}

// Requests is the parent side: the confirmation channel to service.
func (b *Bubbler) Requests() <-chan *ApprovalRequest {
	return b.requests
}

// Ask resolves an approval for the named tool per the policy. It is called
// from the sub-agent's execution path.
func (b *Bubbler) Ask(ctx context.Context, toolName string) Decision {
	if !b.shouldBubble(toolName) {
		return b.policy.Default
	}

	req := &ApprovalRequest{
		RequestID: uuid.NewString(),
		ToolName:  toolName,
		reply:     make(chan Decision, 1),
	}

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return b.policy.Default
	case <-time.After(b.policy.Wait):
		return b.policy.Default
	}

	select {
	case d := <-req.reply:
		return d
	case <-ctx.Done():
		return b.policy.Default
	case <-time.After(b.policy.Wait):
		return b.policy.Default
	}
}

func (b *Bubbler) shouldBubble(toolName string) bool {
	switch b.policy.Mode {
	case ApprovalBubbleAll:
		return true
	case ApprovalBubbleFiltered:
		for _, t := range b.policy.Tools {
			if t == toolName {
				return true
			}
		}
		return false
	default:
		return false
	}
}
