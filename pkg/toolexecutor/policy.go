package toolexecutor

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// ToolPolicy defines which tools an agent can use
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow" yaml:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny" mapstructure:"deny" yaml:"deny"`    // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	// If no explicit allow, deny by default
	return false
}

// Validate rejects policies that can never allow anything by mistake.
func (tp *ToolPolicy) Validate() error {
	if tp == nil {
		return nil
	}
	for _, list := range [][]string{tp.Allow, tp.Deny} {
		for _, name := range list {
			if name == "" {
				return fmt.Errorf("policy entries cannot be empty")
			}
		}
	}
	if len(tp.Allow) == 0 {
		return fmt.Errorf("policy has empty allow list, all tools would be denied")
	}
	return nil
}

// MergePolicies returns the intersection of allow lists and the union of deny lists.
// Nil policies are ignored.
func MergePolicies(policies ...*ToolPolicy) *ToolPolicy {
	valid := make([]*ToolPolicy, 0, len(policies))
	for _, p := range policies {
		if p != nil {
			valid = append(valid, p)
		}
	}
	switch len(valid) {
	case 0:
		return nil
	case 1:
		return valid[0]
	}

	denySet := make(map[string]bool)
	for _, policy := range valid {
		for _, denied := range policy.Deny {
			denySet[denied] = true
		}
	}

	allowSet := make(map[string]bool)
	for _, allowed := range valid[0].Allow {
		allowSet[allowed] = true
	}
	for _, policy := range valid[1:] {
		next := make(map[string]bool)
		for _, allowed := range policy.Allow {
			switch {
			case allowed == "*":
				for name := range allowSet {
					next[name] = true
				}
			case allowSet[allowed] || allowSet["*"]:
				next[allowed] = true
			}
		}
		allowSet = next
	}

	return &ToolPolicy{Allow: sortedKeys(allowSet), Deny: sortedKeys(denySet)}
}

// FilterToolsByPolicy keeps the tools the policy allows.
func FilterToolsByPolicy(tools []string, policy *ToolPolicy) []string {
	if policy == nil {
		return tools
	}

	filtered := []string{}
	for _, tool := range tools {
		if policy.IsToolAllowed(tool) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PolicyPlugin blocks calls denied by the pipeline-wide policy or the caller's ExecutionContext policy.
type PolicyPlugin struct {
	policy *ToolPolicy
	logger zerolog.Logger
}

// NewPolicyPlugin creates a policy plugin. A nil base policy defers to callers' policies.
func NewPolicyPlugin(base *ToolPolicy, logger zerolog.Logger) *PolicyPlugin {
	return &PolicyPlugin{
		policy: base,
		logger: logger.With().Str("component", "policy_plugin").Logger(),
	}
}

func (p *PolicyPlugin) Name() string  { return "policy" }
func (p *PolicyPlugin) Priority() int { return PriorityPolicy }

func (p *PolicyPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	var callerPolicy *ToolPolicy
	agentID := ""
	if pctx.ExecCtx != nil {
		callerPolicy = pctx.ExecCtx.ToolPolicy
		agentID = pctx.ExecCtx.AgentID
	}

	policy := MergePolicies(p.policy, callerPolicy)
	if policy.IsToolAllowed(pctx.ToolName) {
		return Continue(), nil
	}

	p.logger.Warn().
		Str("tool", pctx.ToolName).
		Str("agent_id", agentID).
		Str("execution_id", pctx.ExecutionID).
		Msg("Tool execution blocked by policy")

	return Continue(), &PolicyViolationError{Tool: pctx.ToolName, AgentID: agentID}
}
