// Package policy evaluates access rules written in Rego.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Actions checked against the policy.
const (
	ActionChatSend           = "chat.send"
	ActionChatJoin           = "chat.join"
	ActionConversationList   = "conversation.list"
	ActionConversationCreate = "conversation.create"
	ActionConversationRead   = "conversation.read"
	ActionConversationUpdate = "conversation.update"
	ActionConversationDelete = "conversation.delete"
	ActionProfileRead        = "profile.read"
	ActionProfileUpdate      = "profile.update"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chatrelay.authz.decision"),
		rego.Module("chatrelay_authz.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewDefaultEngine creates an engine running DefaultPolicy.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return NewEngine(ctx, DefaultPolicy)
}

// Evaluate checks whether id may perform action.
func (e *Engine) Evaluate(ctx context.Context, action string, id domain.Identity) (Decision, error) {
	input := map[string]interface{}{
		"action":    action,
		"anonymous": id.IsAnonymous(),
		"role":      string(id.Role()),
		"user_id":   id.ID(),
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// No result means the policy defined no default; deny.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reason: "no decision"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Reason: "unexpected decision type"}, nil
	}
	d := Decision{}
	d.Allow, _ = obj["allow"].(bool)
	d.Reason, _ = obj["reason"].(string)
	return d, nil
}

// DefaultPolicy lets anyone chat, requires an account for conversation
// management, and lets admins do everything.
const DefaultPolicy = `
package chatrelay.authz

default decision = {"allow": false, "reason": "denied"}

public_actions = {"chat.send", "chat.join"}

member_actions = {
	"conversation.list",
	"conversation.create",
	"conversation.read",
	"conversation.update",
	"conversation.delete",
	"profile.read",
	"profile.update",
}

decision = {"allow": true, "reason": "admin"} {
	not input.anonymous
	input.role == "admin"
} else = {"allow": true, "reason": "public"} {
	public_actions[input.action]
} else = {"allow": true, "reason": "member"} {
	not input.anonymous
	member_actions[input.action]
} else = {"allow": false, "reason": "authentication required"} {
	input.anonymous
	member_actions[input.action]
}
`
