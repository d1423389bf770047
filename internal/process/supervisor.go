package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of a supervised helper.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateGaveUp   State = "gave_up"
	StateStopping State = "stopping"
)

// Defaults applied by NewSupervisor to zero Spec fields.
const (
	DefaultRestartDelay        = 2 * time.Second
	DefaultMaxRestartDelay     = time.Minute
	DefaultGracefulTimeout     = 5 * time.Second
	DefaultHealthCheckInterval = 10 * time.Second

	// healthFailureLimit consecutive failed checks kill the helper.
	healthFailureLimit = 3

	healthCheckTimeout = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("helper already running")

// Spec describes the helper to run.
type Spec struct {
	// Name identifies the helper in logs.
	Name string

	Binary string
	Args   []string

	// RestartDelay is the first backoff step. It doubles per consecutive
	// failure up to MaxRestartDelay and resets once the helper has stayed
	// up for MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestarts caps consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// GracefulTimeout is the wait between SIGTERM and SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck, when set, runs every HealthCheckInterval while the
	// helper is up.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration

	// OnExit is called after every exit that was not requested.
	OnExit func(err error)
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor keeps one helper process running.
type Supervisor struct {
	spec   Spec
	logger Logger

	mu       sync.RWMutex
	state    State
	cmd      *exec.Cmd
	restarts int
	lastErr  error
	started  time.Time
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}
}

// NewSupervisor creates a stopped supervisor for spec.
func NewSupervisor(spec Spec) *Supervisor {
	if spec.RestartDelay <= 0 {
		spec.RestartDelay = DefaultRestartDelay
	}
	if spec.MaxRestartDelay < spec.RestartDelay {
		spec.MaxRestartDelay = max(DefaultMaxRestartDelay, spec.RestartDelay)
	}
	if spec.GracefulTimeout <= 0 {
		spec.GracefulTimeout = DefaultGracefulTimeout
	}
	if spec.HealthCheckInterval <= 0 {
		spec.HealthCheckInterval = DefaultHealthCheckInterval
	}
	return &Supervisor{
		spec:   spec,
		logger: noopLogger{},
		state:  StateStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// Start launches the helper and supervises it until Stop or until ctx is
// cancelled. A helper that cannot be launched at all is reported here and
// not retried.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", s.spec.Name, ErrAlreadyRunning)
	}
	s.stopping = false
	s.restarts = 0
	s.lastErr = nil
	s.mu.Unlock()

	cmd, err := s.launch()
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.stopCh = stopCh
	s.mu.Unlock()

	go s.supervise(ctx, cmd, stopCh, done)
	return nil
}

// launch starts one instance of the helper in its own process group.
func (s *Supervisor) launch() (*exec.Cmd, error) {
	cmd := exec.Command(s.spec.Binary, s.spec.Args...) //nolint:gosec // binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.spec.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.started = time.Now()
	logger := s.logger
	s.mu.Unlock()

	go s.forward(logger, "stdout", stdout)
	go s.forward(logger, "stderr", stderr)

	logger.Info("helper started", "name", s.spec.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

// forward logs the helper's output line by line.
func (s *Supervisor) forward(logger Logger, stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		logger.Debug("helper output", "name", s.spec.Name, "stream", stream, "line", sc.Text())
	}
}

func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd, stopCh, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.cmd = nil
		s.done = nil
		if s.state != StateGaveUp {
			s.state = StateStopped
		}
		s.mu.Unlock()
		close(done)
	}()

	delay := s.spec.RestartDelay
	for {
		err := s.wait(ctx, cmd)

		s.mu.Lock()
		stopping := s.stopping
		uptime := time.Since(s.started)
		logger := s.logger
		s.mu.Unlock()

		if stopping {
			logger.Info("helper stopped", "name", s.spec.Name)
			return
		}
		if ctx.Err() != nil {
			s.kill(cmd)
			logger.Info("helper stopped, context done", "name", s.spec.Name)
			return
		}

		logger.Warn("helper exited", "name", s.spec.Name, "error", err, "uptime", uptime)
		if s.spec.OnExit != nil {
			s.spec.OnExit(err)
		}

		if uptime >= s.spec.MaxRestartDelay {
			delay = s.spec.RestartDelay
			s.mu.Lock()
			s.restarts = 0
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.lastErr = err
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		if s.spec.MaxRestarts > 0 && attempt > s.spec.MaxRestarts {
			logger.Error("helper restart limit reached", "name", s.spec.Name, "restarts", attempt-1)
			s.setState(StateGaveUp)
			return
		}

		s.setState(StateBackoff)
		logger.Info("restarting helper", "name", s.spec.Name, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.spec.MaxRestartDelay)

		next, launchErr := s.launch()
		for launchErr != nil {
			logger.Error("relaunching helper failed", "name", s.spec.Name, "error", launchErr)
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, s.spec.MaxRestartDelay)
			next, launchErr = s.launch()
		}
		cmd = next
	}
}

// wait returns when the helper exits, when ctx is done, or after the
// health check has failed healthFailureLimit times in a row, in which case
// the helper is killed first.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var tick <-chan time.Time
	if s.spec.HealthCheck != nil {
		ticker := time.NewTicker(s.spec.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := s.spec.HealthCheck(checkCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			s.log().Warn("helper health check failed", "name", s.spec.Name, "error", err, "failures", failures)
			if failures < healthFailureLimit {
				continue
			}
			s.kill(cmd)
			<-exited
			return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
		}
	}
}

// Stop terminates the helper: SIGTERM to its process group, then SIGKILL
// after GracefulTimeout. It returns once supervision has ended.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	s.state = StateStopping
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		s.log().Info("stopping helper", "name", s.spec.Name, "pid", cmd.Process.Pid)
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			s.log().Warn("SIGTERM failed", "name", s.spec.Name, "error", err)
		}
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.spec.GracefulTimeout):
	}

	s.log().Warn("helper ignored SIGTERM, killing", "name", s.spec.Name)
	s.mu.RLock()
	cmd = s.cmd
	s.mu.RUnlock()
	if cmd != nil {
		s.kill(cmd)
	}
	<-done
	return nil
}

func (s *Supervisor) kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.log().Warn("SIGKILL failed", "name", s.spec.Name, "error", err)
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Stats is a snapshot of the supervisor.
type Stats struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns the current snapshot.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:     s.spec.Name,
		State:    s.state,
		Restarts: s.restarts,
	}
	if s.cmd != nil && s.cmd.Process != nil && s.state == StateRunning {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.started)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
