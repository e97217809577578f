package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/metrics"
	"github.com/cuemby/minepanel/pkg/runtime"
	"github.com/cuemby/minepanel/pkg/types"
)

// maxLineSize bounds one output line; longer lines are split
const maxLineSize = 64 * 1024

// Line is one console line. Synthetic lines produced by the relay itself
// (command echoes and errors) are marked as such.
type Line struct {
	Text      string `json:"line"`
	Error     bool   `json:"error,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// Sink receives console lines for one observer. Returning an error ends the session.
type Sink func(Line) error

// Relay opens one upstream output stream per attached observer
type Relay struct {
	runtime runtime.Runtime
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[int]context.CancelFunc
	nextID   int
	wg       sync.WaitGroup
	closed   bool
}

// NewRelay creates a console relay
func NewRelay(rt runtime.Runtime) *Relay {
	return &Relay{
		runtime:  rt,
		logger:   log.WithComponent("console"),
		sessions: make(map[int]context.CancelFunc),
	}
}

// ErrRelayClosed is returned by Attach after Close
var ErrRelayClosed = errors.New("console relay closed")

// Attach streams the output of instance id into sink until ctx is cancelled,
// the stream ends, or sink fails. Failures to attach are reported to the sink
// as a synthetic error line and returned.
func (r *Relay) Attach(ctx context.Context, id string, sink Sink) error {
	ctx, sessionID, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer r.close(sessionID)

	logger := r.logger.With().Str("container_id", id).Int("session", sessionID).Logger()

	stream, err := r.runtime.AttachOutput(ctx, id)
	if err != nil {
		_ = sink(Line{Text: fmt.Sprintf("Failed to attach console: %v", err), Error: true, Synthetic: true})
		return err
	}
	logger.Debug().Msg("Console attached")

	// closing the stream unblocks the scanner when the observer goes away
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	scanner.Split(splitLines)
	for scanner.Scan() {
		if err := sink(Line{Text: scanner.Text()}); err != nil {
			logger.Debug().Err(err).Msg("Console observer went away")
			return nil
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		_ = sink(Line{Text: fmt.Sprintf("Console stream ended: %v", err), Error: true, Synthetic: true})
		return err
	}
	return nil
}

// SendCommand runs text as a console command in instance id. The command is
// echoed to sink first; its output follows. A stopped instance gets a
// synthetic error line and no command is executed.
func (r *Relay) SendCommand(ctx context.Context, id, text string, sink Sink) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Validationf("command must not be empty")
	}
	if strings.ContainsAny(text, "\r\n") {
		return types.Validationf("command must be a single line")
	}

	summary, err := r.runtime.Inspect(ctx, id)
	if err != nil {
		metrics.ConsoleCommandsTotal.WithLabelValues("failure").Inc()
		return sink(Line{Text: fmt.Sprintf("Cannot send command: %v", err), Error: true, Synthetic: true})
	}
	if summary.Status != types.StatusRunning {
		metrics.ConsoleCommandsTotal.WithLabelValues("rejected").Inc()
		return sink(Line{Text: fmt.Sprintf("Server %s is not running", summary.DisplayName), Error: true, Synthetic: true})
	}

	if err := sink(Line{Text: "> " + text, Synthetic: true}); err != nil {
		return err
	}

	out, err := r.runtime.Exec(ctx, id, text)
	if err != nil {
		metrics.ConsoleCommandsTotal.WithLabelValues("failure").Inc()
		r.logger.Warn().Err(err).Str("container_id", id).Msg("Console command failed")
		return sink(Line{Text: fmt.Sprintf("Command failed: %v", err), Error: true, Synthetic: true})
	}
	metrics.ConsoleCommandsTotal.WithLabelValues("success").Inc()

	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		if err := sink(Line{Text: line}); err != nil {
			return err
		}
	}
	return nil
}

// Sessions returns the number of attached observers
func (r *Relay) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every attached session and waits for them to finish
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.sessions {
		cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// splitLines is bufio.ScanLines that cuts a line at maxLineSize instead of
// failing with bufio.ErrTooLong
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= maxLineSize {
		return maxLineSize, data[:maxLineSize], nil
	}
	return advance, token, err
}

func (r *Relay) open(parent context.Context) (context.Context, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, 0, ErrRelayClosed
	}

	ctx, cancel := context.WithCancel(parent)
	r.nextID++
	id := r.nextID
	r.sessions[id] = cancel
	r.wg.Add(1)
	metrics.ConsoleSessions.Set(float64(len(r.sessions)))
	return ctx, id, nil
}

func (r *Relay) close(id int) {
	r.mu.Lock()
	if cancel, ok := r.sessions[id]; ok {
		cancel()
		delete(r.sessions, id)
	}
	metrics.ConsoleSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	r.wg.Done()
}
