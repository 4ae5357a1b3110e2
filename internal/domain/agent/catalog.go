// Package agent provides the role catalog and the agent registry.
package agent

import (
	"fmt"
	"math"
	"sync"

	"github.com/blackms/swarm-core/internal/shared"
)

// RoleSpec describes one worker role.
type RoleSpec struct {
	Role         shared.AgentRole `json:"role"`
	Capabilities []string         `json:"capabilities"`
	Description  string           `json:"description"`
	Tags         []string         `json:"tags,omitempty"`
}

// Rule maps a task to the roster of roles needed to execute it.
type Rule func(t shared.Task) ([]shared.AgentRole, error)

// Catalog holds the static role-mapping rules used by task analysis.
type Catalog struct {
	mu    sync.RWMutex
	specs map[shared.AgentRole]*RoleSpec
	rules map[shared.TaskType]Rule
}

// NewCatalog creates a Catalog with the default roles and rules.
func NewCatalog() *Catalog {
	c := &Catalog{
		specs: make(map[shared.AgentRole]*RoleSpec),
		rules: make(map[shared.TaskType]Rule),
	}
	c.registerDefaults()
	return c
}

func (c *Catalog) registerDefaults() {
	specs := []RoleSpec{
		{
			Role:         shared.AgentRoleProgrammer,
			Capabilities: []string{"code-generation", "refactoring", "debugging"},
			Description:  "Writes and changes code",
			Tags:         []string{"development"},
		},
		{
			Role:         shared.AgentRoleTester,
			Capabilities: []string{"unit-testing", "integration-testing", "coverage-analysis"},
			Description:  "Verifies behavior with tests",
			Tags:         []string{"quality"},
		},
		{
			Role:         shared.AgentRoleReviewer,
			Capabilities: []string{"code-review", "quality-check", "documentation"},
			Description:  "Reviews changes",
			Tags:         []string{"quality"},
		},
		{
			Role:         shared.AgentRoleSecurityAuditor,
			Capabilities: []string{"security-audit", "threat-modeling"},
			Description:  "Audits changes for security issues",
			Tags:         []string{"security"},
		},
		{
			Role:         shared.AgentRoleResearcher,
			Capabilities: []string{"research", "information-gathering"},
			Description:  "Collects information on a topic",
			Tags:         []string{"research"},
		},
		{
			Role:         shared.AgentRoleAnalyst,
			Capabilities: []string{"analysis", "summarization"},
			Description:  "Consolidates findings",
			Tags:         []string{"research"},
		},
		{
			Role:         shared.AgentRoleArchitect,
			Capabilities: []string{"system-design", "architecture"},
			Description:  "Designs system structure",
			Tags:         []string{"design"},
		},
		{
			Role:         shared.AgentRoleDevOps,
			Capabilities: []string{"deployment", "release", "rollback"},
			Description:  "Ships and operates releases",
			Tags:         []string{"operations"},
		},
		{
			Role:         shared.AgentRoleGeneralist,
			Capabilities: []string{"general"},
			Description:  "Handles tasks without a dedicated rule",
		},
	}
	for _, spec := range specs {
		c.registerLocked(spec)
	}

	c.rules[shared.TaskTypeBuild] = buildRule
	c.rules[shared.TaskTypeTest] = testRule
	c.rules[shared.TaskTypeReview] = reviewRule
	c.rules[shared.TaskTypeResearch] = researchRule
	c.rules[shared.TaskTypeDesign] = fixedRule(shared.AgentRoleArchitect, shared.AgentRoleReviewer)
	c.rules[shared.TaskTypeDeploy] = fixedRule(shared.AgentRoleDevOps, shared.AgentRoleTester)
}

// Register adds or replaces a role spec.
func (c *Catalog) Register(spec RoleSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(spec)
}

func (c *Catalog) registerLocked(spec RoleSpec) {
	stored := spec
	stored.Capabilities = append([]string(nil), spec.Capabilities...)
	stored.Tags = append([]string(nil), spec.Tags...)
	c.specs[spec.Role] = &stored
}

// SetRule installs the roster rule for a task type.
func (c *Catalog) SetRule(taskType shared.TaskType, rule Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[taskType] = rule
}

// Get returns a copy of the spec for role.
func (c *Catalog) Get(role shared.AgentRole) (RoleSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.specs[role]
	if !ok {
		return RoleSpec{}, false
	}
	out := *spec
	out.Capabilities = append([]string(nil), spec.Capabilities...)
	out.Tags = append([]string(nil), spec.Tags...)
	return out, true
}

// Known reports whether role has a spec.
func (c *Catalog) Known(role shared.AgentRole) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.specs[role]
	return ok
}

// Capabilities returns the capabilities of role, or nil if unknown.
func (c *Catalog) Capabilities(role shared.AgentRole) []string {
	spec, ok := c.Get(role)
	if !ok {
		return nil
	}
	return spec.Capabilities
}

// Roster expands a task into one role entry per worker instance. An explicit
// payload "roles" list overrides the rule for the task type; types without a
// rule get a single generalist.
func (c *Catalog) Roster(t shared.Task) ([]shared.AgentRole, error) {
	if raw, ok := t.Payload["roles"]; ok {
		roles, err := roleList(raw)
		if err != nil {
			return nil, shared.NewInvalidTaskError(err.Error(), map[string]interface{}{"taskId": t.ID})
		}
		return roles, nil
	}

	c.mu.RLock()
	rule, ok := c.rules[t.Type]
	c.mu.RUnlock()
	if !ok {
		return []shared.AgentRole{shared.AgentRoleGeneralist}, nil
	}

	roles, err := rule(t)
	if err != nil {
		return nil, shared.NewInvalidTaskError(err.Error(), map[string]interface{}{"taskId": t.ID, "type": string(t.Type)})
	}
	if len(roles) == 0 {
		return nil, shared.NewInvalidTaskError("rule produced an empty roster", map[string]interface{}{"taskId": t.ID})
	}
	return roles, nil
}

// Kinds returns the distinct roles of roster in order of first appearance.
func Kinds(roster []shared.AgentRole) []shared.AgentRole {
	seen := make(map[shared.AgentRole]bool, len(roster))
	kinds := make([]shared.AgentRole, 0, len(roster))
	for _, r := range roster {
		if !seen[r] {
			seen[r] = true
			kinds = append(kinds, r)
		}
	}
	return kinds
}

// ============================================================================
// Default rules
// ============================================================================

func buildRule(t shared.Task) ([]shared.AgentRole, error) {
	files, err := intField(t.Payload, "files", 0)
	if err != nil {
		return nil, err
	}
	roles := repeat(shared.AgentRoleProgrammer, ceilDiv(files, 5))
	return append(roles, shared.AgentRoleTester), nil
}

func testRule(t shared.Task) ([]shared.AgentRole, error) {
	cases, err := intField(t.Payload, "cases", 0)
	if err != nil {
		return nil, err
	}
	return repeat(shared.AgentRoleTester, ceilDiv(cases, 20)), nil
}

func reviewRule(t shared.Task) ([]shared.AgentRole, error) {
	roles := []shared.AgentRole{shared.AgentRoleReviewer}
	if security, _ := t.Payload["security"].(bool); security {
		roles = append(roles, shared.AgentRoleSecurityAuditor)
	}
	return roles, nil
}

func researchRule(t shared.Task) ([]shared.AgentRole, error) {
	topics := 0
	switch v := t.Payload["topics"].(type) {
	case nil:
	case []interface{}:
		topics = len(v)
	case []string:
		topics = len(v)
	default:
		return nil, fmt.Errorf("payload field %q must be a list", "topics")
	}
	if topics < 1 {
		topics = 1
	}
	return append(repeat(shared.AgentRoleResearcher, topics), shared.AgentRoleAnalyst), nil
}

func fixedRule(roles ...shared.AgentRole) Rule {
	return func(shared.Task) ([]shared.AgentRole, error) {
		return append([]shared.AgentRole(nil), roles...), nil
	}
}

// ============================================================================
// Helpers
// ============================================================================

func intField(payload map[string]interface{}, key string, def int) (int, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return def, nil
	}
	var f float64
	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	default:
		return 0, fmt.Errorf("payload field %q must be a number", key)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("payload field %q must be a non-negative number", key)
	}
	return int(math.Ceil(f)), nil
}

func roleList(raw interface{}) ([]shared.AgentRole, error) {
	var names []string
	switch v := raw.(type) {
	case []string:
		names = v
	case []shared.AgentRole:
		return append([]shared.AgentRole(nil), v...), checkNonEmpty(len(v))
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("payload field %q must contain only strings", "roles")
			}
			names = append(names, s)
		}
	default:
		return nil, fmt.Errorf("payload field %q must be a list of role names", "roles")
	}
	if err := checkNonEmpty(len(names)); err != nil {
		return nil, err
	}
	roles := make([]shared.AgentRole, 0, len(names))
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("payload field %q contains an empty role", "roles")
		}
		roles = append(roles, shared.AgentRole(n))
	}
	return roles, nil
}

func checkNonEmpty(n int) error {
	if n == 0 {
		return fmt.Errorf("payload field %q must not be empty", "roles")
	}
	return nil
}

func ceilDiv(n, d int) int {
	c := (n + d - 1) / d
	if c < 1 {
		return 1
	}
	return c
}

func repeat(role shared.AgentRole, n int) []shared.AgentRole {
	out := make([]shared.AgentRole, n)
	for i := range out {
		out[i] = role
	}
	return out
}
