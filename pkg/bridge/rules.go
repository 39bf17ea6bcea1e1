package bridge

import (
	"sync"
	"time"
)

// TimeoutPolicy selects how a rule's deadline affects its Active state on
// the 60-second rule timer tick.
type TimeoutPolicy int

const (
	// TimeoutPolicyNone never flips Active from the timer tick alone.
	TimeoutPolicyNone TimeoutPolicy = iota
	// TimeoutPolicyON deactivates the rule once Deadline passes.
	TimeoutPolicyON
	// TimeoutPolicyOFF activates the rule once Deadline passes.
	TimeoutPolicyOFF
)

// BridgeRule represents a single routing rule for a conference bridge
type BridgeRule struct {
	System   string // System name to route to/from
	TGID     int    // Talkgroup ID
	Timeslot int    // Timeslot (1 or 2)
	Active   bool   // Whether this rule is currently active
	On       []int  // TGIDs that activate this rule
	Off      []int  // TGIDs that deactivate this rule
	Reset    []int  // TGIDs that reset this rule's deadline without changing Active
	Timeout  int    // Minutes before auto-disable (if >0)

	// ToType selects TimeoutPolicy: "ON" deactivates on timeout, "OFF"
	// activates on timeout, anything else is TimeoutPolicyNone.
	ToType   string
	Deadline time.Time

	mu sync.RWMutex
}

// timeoutPolicy resolves ToType into a TimeoutPolicy.
func (r *BridgeRule) timeoutPolicy() TimeoutPolicy {
	switch r.ToType {
	case "ON":
		return TimeoutPolicyON
	case "OFF":
		return TimeoutPolicyOFF
	default:
		return TimeoutPolicyNone
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Tick applies the 60-second rule timer: a TimeoutPolicyON rule whose
// deadline has passed deactivates; a TimeoutPolicyOFF rule whose deadline
// has passed activates.
func (r *BridgeRule) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Timeout <= 0 || r.Deadline.IsZero() {
		return
	}

	switch r.timeoutPolicy() {
	case TimeoutPolicyON:
		if r.Active && r.Deadline.Before(now) {
			r.Active = false
		}
	case TimeoutPolicyOFF:
		if !r.Active && r.Deadline.Before(now) {
			r.Active = true
		}
	}
}

// ProcessInBandTrigger applies the in-band trigger rules evaluated at
// voice-terminator time for a membership whose endpoint matches the
// current one: refresh the deadline on matching in-use traffic, and
// activate/deactivate on ON/OFF/RESET trigger sets.
func (r *BridgeRule) ProcessInBandTrigger(dstID uint32, slot int, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Timeslot != slot {
		return
	}
	deadline := now.Add(time.Duration(r.Timeout) * time.Minute)
	policy := r.timeoutPolicy()
	tgid := int(dstID)

	if tgid == r.TGID && ((policy == TimeoutPolicyON && r.Active) || (policy == TimeoutPolicyOFF && !r.Active)) {
		r.Deadline = deadline
	}

	if containsInt(r.On, tgid) || containsInt(r.Reset, tgid) {
		if containsInt(r.On, tgid) && !r.Active {
			r.Active = true
			r.Deadline = deadline
		}
		if r.Active {
			if policy == TimeoutPolicyOFF {
				r.Deadline = now
			} else if policy == TimeoutPolicyON {
				r.Deadline = deadline
			}
		}
	}

	if containsInt(r.Off, tgid) || containsInt(r.Reset, tgid) {
		if containsInt(r.Off, tgid) && r.Active {
			r.Active = false
			r.Deadline = deadline
		}
		if !r.Active {
			if policy == TimeoutPolicyON {
				r.Deadline = now
			} else if policy == TimeoutPolicyOFF {
				r.Deadline = deadline
			}
		}
	}
}

// Matches checks if this rule matches the given TGID and timeslot
func (r *BridgeRule) Matches(tgid uint32, timeslot int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.Active {
		return false
	}

	return int(tgid) == r.TGID && timeslot == r.Timeslot
}

// ShouldActivate checks if this rule should be activated by the given TGID
func (r *BridgeRule) ShouldActivate(tgid uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.On) == 0 {
		return false
	}

	tgidInt := int(tgid)
	for _, activationTGID := range r.On {
		if activationTGID == tgidInt {
			return true
		}
	}

	return false
}

// ShouldDeactivate checks if this rule should be deactivated by the given TGID
func (r *BridgeRule) ShouldDeactivate(tgid uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.Off) == 0 {
		return false
	}

	tgidInt := int(tgid)
	for _, deactivationTGID := range r.Off {
		if deactivationTGID == tgidInt {
			return true
		}
	}

	return false
}

// Activate activates this rule
func (r *BridgeRule) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Active = true
}

// Deactivate deactivates this rule
func (r *BridgeRule) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Active = false
}

// BridgeRuleSet represents a named set of bridge rules
type BridgeRuleSet struct {
	Name  string
	Rules []*BridgeRule
	mu    sync.RWMutex
}

// NewBridgeRuleSet creates a new bridge rule set
func NewBridgeRuleSet(name string) *BridgeRuleSet {
	return &BridgeRuleSet{
		Name:  name,
		Rules: make([]*BridgeRule, 0),
	}
}

// AddRule adds a rule to this rule set
func (brs *BridgeRuleSet) AddRule(rule *BridgeRule) {
	brs.mu.Lock()
	defer brs.mu.Unlock()
	brs.Rules = append(brs.Rules, rule)
}

// Tick runs the 60-second rule timer across every rule in the set.
func (brs *BridgeRuleSet) Tick(now time.Time) {
	brs.mu.RLock()
	rules := make([]*BridgeRule, len(brs.Rules))
	copy(rules, brs.Rules)
	brs.mu.RUnlock()

	for _, rule := range rules {
		rule.Tick(now)
	}
}

// ProcessInBandTrigger runs the in-band trigger rules for every membership
// of this set whose system matches the endpoint a voice-terminator just
// arrived on.
func (brs *BridgeRuleSet) ProcessInBandTrigger(endpoint string, dstID uint32, slot int, now time.Time) {
	brs.mu.RLock()
	rules := make([]*BridgeRule, len(brs.Rules))
	copy(rules, brs.Rules)
	brs.mu.RUnlock()

	for _, rule := range rules {
		if rule.System != endpoint {
			continue
		}
		rule.ProcessInBandTrigger(dstID, slot, now)
	}
}

// GetRulesForSystem returns all rules for a specific system
func (brs *BridgeRuleSet) GetRulesForSystem(system string) []*BridgeRule {
	brs.mu.RLock()
	defer brs.mu.RUnlock()

	result := make([]*BridgeRule, 0)
	for _, rule := range brs.Rules {
		if rule.System == system {
			result = append(result, rule)
		}
	}

	return result
}

// GetMatchingRules returns all active rules that match the given TGID and timeslot,
// excluding the source system to prevent loops
func (brs *BridgeRuleSet) GetMatchingRules(tgid uint32, timeslot int, excludeSystem string) []*BridgeRule {
	brs.mu.RLock()
	defer brs.mu.RUnlock()

	result := make([]*BridgeRule, 0)
	for _, rule := range brs.Rules {
		if rule.System == excludeSystem {
			continue
		}
		if rule.Matches(tgid, timeslot) {
			result = append(result, rule)
		}
	}

	return result
}

// ProcessActivation processes activation for the given TGID
// Returns the list of rules that were activated
func (brs *BridgeRuleSet) ProcessActivation(tgid uint32) []*BridgeRule {
	brs.mu.RLock()
	defer brs.mu.RUnlock()

	activated := make([]*BridgeRule, 0)
	for _, rule := range brs.Rules {
		if rule.ShouldActivate(tgid) {
			rule.Activate()
			activated = append(activated, rule)
		}
	}

	return activated
}

// ProcessDeactivation processes deactivation for the given TGID
// Returns the list of rules that were deactivated
func (brs *BridgeRuleSet) ProcessDeactivation(tgid uint32) []*BridgeRule {
	brs.mu.RLock()
	defer brs.mu.RUnlock()

	deactivated := make([]*BridgeRule, 0)
	for _, rule := range brs.Rules {
		if rule.ShouldDeactivate(tgid) {
			rule.Deactivate()
			deactivated = append(deactivated, rule)
		}
	}

	return deactivated
}

// BridgeRuleSnapshot is a read-only snapshot of a BridgeRule
type BridgeRuleSnapshot struct {
	System   string `json:"system"`
	TGID     int    `json:"tgid"`
	Timeslot int    `json:"timeslot"`
	Active   bool   `json:"active"`
}

// BridgeRuleSetSnapshot is a read-only snapshot of a BridgeRuleSet
type BridgeRuleSetSnapshot struct {
	Name  string               `json:"name"`
	Rules []BridgeRuleSnapshot `json:"rules"`
}

// Snapshot returns a snapshot of the rule set and all rules
func (brs *BridgeRuleSet) Snapshot() BridgeRuleSetSnapshot {
	brs.mu.RLock()
	defer brs.mu.RUnlock()

	out := BridgeRuleSetSnapshot{Name: brs.Name, Rules: make([]BridgeRuleSnapshot, 0, len(brs.Rules))}
	for _, rule := range brs.Rules {
		rule.mu.RLock()
		out.Rules = append(out.Rules, BridgeRuleSnapshot{
			System:   rule.System,
			TGID:     rule.TGID,
			Timeslot: rule.Timeslot,
			Active:   rule.Active,
		})
		rule.mu.RUnlock()
	}
	return out
}
