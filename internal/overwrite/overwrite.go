// Package overwrite implements C2, the overwrite policy: deciding, for
// each target artefact, whether a stage may proceed or must skip.
package overwrite

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/idossha/structural/internal/console"
)

// Decision is the outcome of Policy.Decide.
type Decision int

const (
	Proceed Decision = iota
	Skip
)

// Responder supplies the user's answer to an overwrite prompt. Background
// or non-interactive callers inject FixedResponse instead of reading
// os.Stdin, isolating TTY detection from the prompt's decision logic
// (spec.md §9's re-architecture note).
type Responder interface {
	// Respond returns true if the user approved the overwrite.
	Respond(ctx context.Context, target string) (bool, error)
}

// StdinResponder prompts on the given writer and reads a line from stdin.
type StdinResponder struct {
	Out io.Writer
}

// FixedResponse always answers with the same boolean, for non-interactive
// callers (parallel workers, tests).
type FixedResponse bool

func (f FixedResponse) Respond(ctx context.Context, target string) (bool, error) {
	return bool(f), nil
}

// Policy is the two-flag overwrite policy of spec.md §4.2.
type Policy struct {
	Overwrite bool // force
	Prompt    bool // ask on TTY
	IsTTY     bool // whether stdin is a terminal; a pure input, not probed internally
	Responder Responder
}

// Decide implements the algorithm of spec.md §4.2. It never touches the
// filesystem beyond the existence check and (on approval) deleting the
// target tree — deletion and the PROCEED verdict are atomic with respect
// to other subjects because each subject exclusively owns its own
// workspace (spec.md §3).
func (p Policy) Decide(ctx context.Context, target string) (Decision, error) {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return Proceed, nil
	} else if err != nil {
		return Skip, fmt.Errorf("stat %s: %w", target, err)
	}

	if p.Overwrite {
		if err := os.RemoveAll(target); err != nil {
			return Skip, fmt.Errorf("removing %s: %w", target, err)
		}
		return Proceed, nil
	}

	if !p.Prompt {
		return Skip, nil
	}

	if !p.IsTTY {
		return Skip, nil
	}

	responder := p.Responder
	if responder == nil {
		responder = StdinResponder{Out: os.Stdout}
	}
	approved, err := responder.Respond(ctx, target)
	if err != nil {
		return Skip, err
	}
	if !approved {
		return Skip, nil
	}
	if err := os.RemoveAll(target); err != nil {
		return Skip, fmt.Errorf("removing %s: %w", target, err)
	}
	return Proceed, nil
}

// Respond prompts on Out and blocks on a line from stdin, honoring
// cancellation the way the teacher's gate phase does: a goroutine reads
// the line and feeds a channel so ctx.Done() can win the select.
func (r StdinResponder) Respond(ctx context.Context, target string) (bool, error) {
	fmt.Fprint(r.Out, console.Prompt(target))

	type readResult struct {
		line string
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		ch <- readResult{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return false, nil
		}
		switch strings.ToLower(r.line) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// DetectTTY reports whether stdin is a terminal, using the character-device
// mode bit rather than pulling in golang.org/x/term for a single bit test
// (see DESIGN.md).
func DetectTTY() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
