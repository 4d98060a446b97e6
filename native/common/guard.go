package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is wrapped by Guard with the name of the paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether an administrator has halted a protocol module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails when any of modules is paused. Loan flows that cross engines
// (refinancing closes a lending loan) pass every module they touch so a pause
// on either side stops the whole operation before state is written.
func Guard(p PauseView, modules ...string) error {
	if p == nil {
		return nil
	}
	for _, module := range modules {
		module = strings.TrimSpace(module)
		if module == "" {
			continue
		}
		if p.IsPaused(module) {
			return fmt.Errorf("%w: %s", ErrModulePaused, strings.ToLower(module))
		}
	}
	return nil
}
