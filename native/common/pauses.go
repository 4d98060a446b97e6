package common

import (
	"fmt"
	"strings"
)

type pauseState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	RequireRole(role string, addr [20]byte) error
}

// Pauses is the state-backed PauseView toggled by protocol administrators.
type Pauses struct {
	state     pauseState
	adminRole string
}

// NewPauses binds the pause registry to state. Callers holding adminRole may
// toggle module pause flags.
func NewPauses(state pauseState, adminRole string) *Pauses {
	return &Pauses{state: state, adminRole: adminRole}
}

func pauseKey(module string) []byte {
	return []byte("pause/" + strings.ToLower(strings.TrimSpace(module)))
}

// SetPaused toggles the pause flag for module.
func (p *Pauses) SetPaused(caller [20]byte, module string, paused bool) error {
	if p == nil || p.state == nil {
		return fmt.Errorf("pauses: state not configured")
	}
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("pauses: module required")
	}
	if err := p.state.RequireRole(p.adminRole, caller); err != nil {
		return err
	}
	if !paused {
		return p.state.KVDelete(pauseKey(module))
	}
	return p.state.KVPut(pauseKey(module), true)
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil || p.state == nil {
		return false
	}
	var paused bool
	if _, err := p.state.KVGet(pauseKey(module), &paused); err != nil {
		return false
	}
	return paused
}
