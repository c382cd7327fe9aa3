package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/kiranshivaraju/holdseg/internal/pipeline"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// ProcessConfig describes how to launch a worker subprocess.
type ProcessConfig struct {
	Binary string
	Args   []string
	// Env is appended to the parent's environment.
	Env []string
}

// ProcessUnit is a worker subprocess with its own model instance.
type ProcessUnit struct {
	cmd     *exec.Cmd
	stderr  *tailWriter
	stdin   io.WriteCloser
	replies io.ReadCloser

	exitOnce sync.Once
	exitErr  error
}

// ProcessSpawner returns a Spawner that starts one subprocess per unit and
// waits for its hello frame.
func ProcessSpawner(cfg ProcessConfig) Spawner {
	return func(ctx context.Context) (Unit, error) {
		u, err := StartProcess(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return u, nil
	}
}

// StartProcess launches a worker and blocks until it reports its model is
// loaded. A worker that fails to load reports a model_error.
func StartProcess(ctx context.Context, cfg ProcessConfig) (*ProcessUnit, error) {
	cmd := exec.Command(cfg.Binary, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	stderr := newTailWriter(stderrTail)
	cmd.Stderr = stderr

	// Side-channel pipe for replies, visible to the child as FD 3.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, models.NewJobError(models.KindModel, fmt.Errorf("starting worker %s: %w", cfg.Binary, err))
	}
	// Only the child holds the write end now.
	w.Close()

	u := &ProcessUnit{cmd: cmd, stderr: stderr, stdin: stdin, replies: r}

	var h hello
	if err := u.await(ctx, func() error { return readFrame(r, &h) }); err != nil {
		return nil, models.NewJobError(models.KindModel, u.exitError(err))
	}
	if h.Error != nil {
		u.Close()
		return nil, h.Error
	}

	slog.Info("worker process started", "pid", u.Pid(), "runtime", h.Runtime)
	return u, nil
}

// Run sends t to the worker and waits for its reply. Cancelling ctx kills
// the worker.
func (u *ProcessUnit) Run(ctx context.Context, t Task) (*models.PredictionSet, error) {
	var rep reply
	err := u.await(ctx, func() error {
		if err := writeFrame(u.stdin, request{JobID: t.JobID, Image: t.Image}); err != nil {
			return err
		}
		return readFrame(u.replies, &rep)
	})
	if err != nil {
		return nil, u.exitError(err)
	}
	if rep.Error != nil {
		return nil, rep.Error
	}
	if rep.Result == nil {
		return nil, models.Errorf(models.KindInternal, "worker replied without result")
	}
	return rep.Result, nil
}

// await runs exchange on its own goroutine so a hung worker can be killed.
func (u *ProcessUnit) await(ctx context.Context, exchange func() error) error {
	done := make(chan error, 1)
	go func() { done <- exchange() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = u.cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}

// exitError reaps the process after a failed exchange and folds its exit
// status and stderr into a crash error.
func (u *ProcessUnit) exitError(cause error) error {
	u.stdin.Close()
	u.replies.Close()
	u.wait()

	msg := strings.TrimSpace(u.stderr.String())
	if u.exitErr != nil {
		cause = fmt.Errorf("%v (%v)", cause, u.exitErr)
	}
	slog.Warn("worker process exited", "pid", u.Pid(), "error", cause)
	if msg != "" {
		return fmt.Errorf("%w: %v: %s", ErrUnitCrashed, cause, msg)
	}
	return fmt.Errorf("%w: %v", ErrUnitCrashed, cause)
}

func (u *ProcessUnit) wait() {
	u.exitOnce.Do(func() { u.exitErr = u.cmd.Wait() })
}

// Pid returns the worker's process id.
func (u *ProcessUnit) Pid() int { return u.cmd.Process.Pid }

// Close asks the worker to exit by closing its stdin and reaps it.
func (u *ProcessUnit) Close() error {
	u.stdin.Close()
	u.wait()
	u.replies.Close()

	var exitErr *exec.ExitError
	if u.exitErr != nil && !errors.As(u.exitErr, &exitErr) {
		return u.exitErr
	}
	return nil
}

// ServeProcess is the worker side of the protocol. It loads the predictor,
// announces itself, then answers requests until in is closed.
func ServeProcess(ctx context.Context, load func(ctx context.Context) (pipeline.Predictor, error), runtime string, in io.Reader, out io.Writer) error {
	p, err := load(ctx)
	if err != nil {
		jerr := models.AsJobError(err)
		if jerr.Kind == models.KindInternal {
			jerr = models.NewJobError(models.KindModel, err)
		}
		_ = writeFrame(out, hello{Error: jerr})
		return err
	}
	defer p.Close()

	if err := writeFrame(out, hello{Runtime: runtime}); err != nil {
		return err
	}

	for {
		var req request
		if err := readFrame(in, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}

		set, err := p.Predict(ctx, req.Image)
		rep := reply{Result: set}
		if err != nil {
			rep = reply{Error: models.AsJobError(err)}
		}
		if err := writeFrame(out, rep); err != nil {
			return fmt.Errorf("writing reply for job %s: %w", req.JobID, err)
		}
	}
}

var _ Unit = (*ProcessUnit)(nil)
