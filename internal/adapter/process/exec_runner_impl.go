package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/internal/repository"
)

// waitDelay bounds how long output copying may outlive a killed crawler.
const waitDelay = 5 * time.Second

// ExecRunner launches crawler processes with os/exec.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a runner that streams child output into logger.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Start launches cmd and returns without waiting for it.
func (r *ExecRunner) Start(ctx context.Context, cmd entity.CrawlCommand) (repository.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay
	startInOwnGroup(c)

	stdout := newLineWriter(r.logger, "stdout")
	stderr := newLineWriter(r.logger, "stderr")
	c.Stdout = stdout
	c.Stderr = stderr

	if err := c.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: c, done: make(chan struct{})}
	go func() {
		err := c.Wait()
		stdout.Flush()
		stderr.Flush()
		p.status = exitStatus(err)
		close(p.done)
	}()

	r.logger.Debug("Crawler started", zap.String("path", cmd.Path), zap.Int("pid", c.Process.Pid))
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	done   chan struct{}
	status entity.ExitStatus
}

func (p *execProcess) Poll() (entity.ExitStatus, bool) {
	select {
	case <-p.done:
		return p.status, true
	default:
		return entity.ExitStatus{}, false
	}
}

// Kill stops the crawler together with every process it spawned.
func (p *execProcess) Kill() error {
	return killGroup(p.cmd.Process)
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func exitStatus(err error) entity.ExitStatus {
	if err == nil {
		return entity.ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code >= 0 {
			return entity.ExitStatus{Code: code}
		}
		return entity.ExitStatus{Code: code, Err: err}
	}
	return entity.ExitStatus{Code: -1, Err: err}
}

// lineWriter logs every complete line written to it.
type lineWriter struct {
	mu     sync.Mutex
	logger *zap.Logger
	buf    bytes.Buffer
}

func newLineWriter(logger *zap.Logger, stream string) *lineWriter {
	return &lineWriter{logger: logger.With(zap.String("stream", stream))}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		w.emit(line[:i])
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Info("crawler output", zap.ByteString("line", line))
}
