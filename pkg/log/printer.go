package log

import (
	"fmt"
	"strings"
)

// Printer adapts a Logger to the Println/Printf shape expected by the paho
// debug hooks. Every line is emitted at debug level.
type Printer struct {
	logger Logger
}

// NewPrinter returns a Printer writing to l under the given name.
func NewPrinter(l Logger, name string) *Printer {
	return &Printer{logger: l.WithName(name)}
}

func (p *Printer) Println(v ...any) {
	p.logger.Debug(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (p *Printer) Printf(format string, v ...any) {
	p.logger.Debug(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}
