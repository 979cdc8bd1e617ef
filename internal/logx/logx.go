// Package logx implements C3, the structured per-subject logger: a
// timestamped log file plus a console stream, each with its own level
// threshold and the detail/summary display modes of spec.md §4.3.
package logx

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/idossha/structural/internal/console"
)

// Level is one of the four levels spec.md §4.3 names.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Mode is the console display mode of spec.md §4.3.
type Mode int

const (
	Summary Mode = iota
	Detail
)

// Logger writes every level >= its file threshold to a per-subject log
// file (append-only, one line at a time under a mutex so a full logical
// line is never interleaved — spec.md §8's "log atomicity" invariant) and
// mirrors lines to the console per the configured Mode.
type Logger struct {
	mu               sync.Mutex
	file             *os.File
	path             string
	subjectID        string
	fileThreshold    Level
	consoleThreshold Level
	mode             Mode
}

// New opens (creating if absent) the log file at path and returns a
// Logger for the given subject. debug mirrors the DEBUG environment
// knob of spec.md §6.2: it lowers both thresholds to Debug and switches
// the console to Detail mode.
func New(path, subjectID string, debug bool) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	threshold := Info
	mode := Summary
	if debug {
		threshold = Debug
		mode = Detail
	}
	return &Logger{
		file:             f,
		path:             path,
		subjectID:        subjectID,
		fileThreshold:    threshold,
		consoleThreshold: threshold,
		mode:             mode,
	}, nil
}

// Path returns the log file's location.
func (l *Logger) Path() string {
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// log writes one formatted, atomically-flushed line to the file (if its
// level clears the file threshold) and, when consoleEligible, to the
// console (if its level clears the console threshold).
func (l *Logger) log(level Level, consoleEligible bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s", time.Now().Format("2006-01-02 15:04:05"), level, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if level >= l.fileThreshold {
		fmt.Fprintln(l.file, line)
	}
	if consoleEligible && level >= l.consoleThreshold {
		fmt.Printf("%s%s\n", tagPrefix(l.subjectID), line)
	}
}

func tagPrefix(subjectID string) string {
	if subjectID == "" {
		return ""
	}
	return fmt.Sprintf("%s[%s]%s ", console.Cyan, subjectID, console.Reset)
}

func (l *Logger) Debugf(format string, args ...any) { l.log(Debug, true, format, args...) }
func (l *Logger) Infof(format string, args ...any)   { l.log(Info, true, format, args...) }
func (l *Logger) Warnf(format string, args ...any)   { l.log(Warn, true, format, args...) }
func (l *Logger) Errorf(format string, args ...any)  { l.log(Error, true, format, args...) }

// SnapshotInfof records a resource-monitor line (spec.md §4.5). It always
// reaches the log file; in summary mode it does not reach the console,
// since summary mode reserves the console for stage-boundary events
// (spec.md §4.3) — only Detail mode's already-verbose console stream
// shows it.
func (l *Logger) SnapshotInfof(format string, args ...any) {
	l.log(Info, l.mode == Detail, format, args...)
}

// Detail reports whether child-process output should be tee'd to the
// console line by line (spec.md §4.3's detail mode) rather than only to
// the log file (summary mode).
func (l *Logger) Detail() bool {
	return l.mode == Detail
}

// ChildLine records one line of captured child-process stdout/stderr.
// It always reaches the log file; it reaches the console only in Detail
// mode (spec.md §4.3).
func (l *Logger) ChildLine(line string) {
	l.mu.Lock()
	fmt.Fprintln(l.file, line)
	detail := l.mode == Detail
	l.mu.Unlock()

	if detail {
		console.Detail(l.subjectID, line)
	}
}

// StageStarting/StageFinished print the stage-boundary console events that
// summary mode still shows (spec.md §4.3: "the console receives only
// stage-boundary events").
func (l *Logger) StageStarting(index, total int, name string) {
	console.StageHeader(l.subjectID, name, index, total)
	l.Infof("stage %s starting (%d/%d)", name, index+1, total)
}

func (l *Logger) StageFinished(name, outcome string, d time.Duration) {
	console.StageComplete(l.subjectID, name, outcome, d)
	l.Infof("stage %s finished in %s: %s", name, d, outcome)
}
