package bridge

import (
	"fmt"
	"sync"
	"time"
)

// TimerManager manages timeout timers for bridge rules
type TimerManager struct {
	timers map[string]*time.Timer
	mu     sync.RWMutex
}

// NewTimerManager creates a new timer manager
func NewTimerManager() *TimerManager {
	return &TimerManager{
		timers: make(map[string]*time.Timer),
	}
}

// ruleKey generates a unique key for a rule
func ruleKey(rule *BridgeRule) string {
	return fmt.Sprintf("%s:%d:%d", rule.System, rule.TGID, rule.Timeslot)
}

// SetTimeout sets a timeout for a rule (in minutes as specified in config)
// When the timeout expires, the rule will be deactivated
func (tm *TimerManager) SetTimeout(rule *BridgeRule) {
	if rule.Timeout <= 0 {
		return // No timeout configured
	}

	duration := time.Duration(rule.Timeout) * time.Minute
	tm.SetTimeoutWithCallback(rule, duration, func(r *BridgeRule) {
		r.Deactivate()
	})
}

// SetTimeoutWithCallback sets a timeout with a custom callback
func (tm *TimerManager) SetTimeoutWithCallback(rule *BridgeRule, duration time.Duration, callback func(*BridgeRule)) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	key := ruleKey(rule)

	// Clear existing timer if present
	if existingTimer, exists := tm.timers[key]; exists {
		existingTimer.Stop()
	}

	// Create new timer
	timer := time.AfterFunc(duration, func() {
		callback(rule)
		tm.mu.Lock()
		delete(tm.timers, key)
		tm.mu.Unlock()
	})

	tm.timers[key] = timer
}

// ClearTimeout clears the timeout for a rule
func (tm *TimerManager) ClearTimeout(rule *BridgeRule) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	key := ruleKey(rule)
	if timer, exists := tm.timers[key]; exists {
		timer.Stop()
		delete(tm.timers, key)
	}
}

// RefreshTimeout refreshes the timeout for a rule
func (tm *TimerManager) RefreshTimeout(rule *BridgeRule) {
	// Simply set the timeout again, which will clear the old one
	tm.SetTimeout(rule)
}

// HasTimer checks if a rule has an active timer
func (tm *TimerManager) HasTimer(rule *BridgeRule) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	key := ruleKey(rule)
	_, exists := tm.timers[key]
	return exists
}

// StopAll stops all active timers
func (tm *TimerManager) StopAll() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for _, timer := range tm.timers {
		timer.Stop()
	}

	tm.timers = make(map[string]*time.Timer)
}

// RuleTimerInterval is the period of the rule timer tick.
const RuleTimerInterval = 60 * time.Second

// RuleTimer drives the 60-second rule-timer tick across every bridge
// registered with a Router.
type RuleTimer struct {
	router *Router
	ticker *time.Ticker
	stop   chan struct{}
}

// NewRuleTimer creates a rule timer bound to router, not yet started.
func NewRuleTimer(router *Router) *RuleTimer {
	return &RuleTimer{router: router}
}

// Start begins ticking every RuleTimerInterval until Stop is called.
func (rt *RuleTimer) Start() {
	rt.ticker = time.NewTicker(RuleTimerInterval)
	rt.stop = make(chan struct{})
	go func() {
		for {
			select {
			case now := <-rt.ticker.C:
				rt.router.TickBridges(now)
			case <-rt.stop:
				return
			}
		}
	}()
}

// Stop halts the rule timer.
func (rt *RuleTimer) Stop() {
	if rt.ticker != nil {
		rt.ticker.Stop()
	}
	if rt.stop != nil {
		close(rt.stop)
	}
}

// StreamTrimmer periodically sweeps stale OpenBridge per-stream-id call-
// stream records, since OpenBridge targets have no timeslot to key
// contention state from and are instead tracked directly by stream_id.
type StreamTrimmer struct {
	router *Router
	ticker *time.Ticker
	stop   chan struct{}
}

// NewStreamTrimmer creates a stream trimmer bound to router, not yet started.
func NewStreamTrimmer(router *Router) *StreamTrimmer {
	return &StreamTrimmer{router: router}
}

// Start begins ticking every OpenBridgeTrim interval until Stop is called.
func (st *StreamTrimmer) Start() {
	st.ticker = time.NewTicker(OpenBridgeTrim)
	st.stop = make(chan struct{})
	go func() {
		for {
			select {
			case now := <-st.ticker.C:
				st.router.TrimOpenBridgeStreams(now)
			case <-st.stop:
				return
			}
		}
	}()
}

// Stop halts the stream trimmer.
func (st *StreamTrimmer) Stop() {
	if st.ticker != nil {
		st.ticker.Stop()
	}
	if st.stop != nil {
		close(st.stop)
	}
}
