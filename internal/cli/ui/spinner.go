package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// StepSpinner shows progress for one provider call at a time. On a TTY it
// animates; otherwise it prints the step once so piped output stays clean.
type StepSpinner struct {
	w      io.Writer
	static bool
	s      *spinner.Spinner
	msg    string
}

// NewStepSpinner creates a spinner that writes to w. static disables the
// animation.
func NewStepSpinner(w io.Writer, static bool) *StepSpinner {
	return &StepSpinner{w: w, static: static}
}

// Start begins a step labelled msg.
func (ss *StepSpinner) Start(msg string) {
	ss.msg = msg
	if ss.static {
		fmt.Fprintf(ss.w, "  %s", msg)
		return
	}
	ss.s = spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(ss.w))
	ss.s.Prefix = "  "
	ss.s.Suffix = " " + msg
	ss.s.Start()
}

// Done ends the step with a check mark.
func (ss *StepSpinner) Done() { ss.finish(StyleSuccess.Render(SymbolCheck)) }

// Fail ends the step with a cross.
func (ss *StepSpinner) Fail() { ss.finish(StyleError.Render(SymbolCross)) }

// Stop halts the animation without printing a result.
func (ss *StepSpinner) Stop() {
	if ss.s != nil {
		ss.s.Stop()
		ss.s = nil
	}
}

// Run wraps fn in a step: Done when it returns nil, Fail otherwise.
func (ss *StepSpinner) Run(msg string, fn func() error) error {
	ss.Start(msg)
	if err := fn(); err != nil {
		ss.Fail()
		return err
	}
	ss.Done()
	return nil
}

func (ss *StepSpinner) finish(mark string) {
	if ss.static {
		fmt.Fprintf(ss.w, " %s\n", mark)
		return
	}
	ss.Stop()
	fmt.Fprintf(ss.w, "\r  %s %s\n", ss.msg, mark)
}
