// Package actuator implements the opaque motion sink the Arbiter writes to
// (§4.1 item 1). Real GPIO/serial/PWM hardware is explicitly out of scope
// (§1); SimDriver stands in as the collaborator-replaceable placeholder,
// logging each command it would have issued.
package actuator

import (
	"context"

	"tankctl/command"
)

// Logger is the minimal logging surface SimDriver needs.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
}

// SimDriver is an idempotent, always-successful command.Driver that logs
// each command. Swappable for a real hardware driver by a collaborator
// without touching the Arbiter.
type SimDriver struct {
	logger Logger
}

// NewSimDriver returns a SimDriver.
func NewSimDriver(logger Logger) *SimDriver {
	return &SimDriver{logger: logger}
}

// Drive implements command.Driver.
func (d *SimDriver) Drive(ctx context.Context, cmd command.Command) error {
	if d.logger != nil {
		d.logger.Infow("actuator drive", "command", cmd)
	}
	return nil
}
