package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"conductor/internal/logging"
	"conductor/internal/ports"
)

// LocalConfig configures the local shell execution backend.
type LocalConfig struct {
	// WorkDir is the root under which each task gets its own directory.
	WorkDir string
	// Shell runs the task description as a script. Defaults to "sh".
	Shell string
	// DefaultTimeout bounds executions that carry no per-request timeout.
	DefaultTimeout time.Duration
	// MaxOutput caps the bytes of output retained per task.
	MaxOutput int
	// MaxFileRead caps the bytes returned by ReadTaskFile.
	MaxFileRead int
}

func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		Shell:          "sh",
		DefaultTimeout: 10 * time.Minute,
		MaxOutput:      1 << 20,
		MaxFileRead:    256 << 10,
	}
}

// process tracks one live task subprocess for control-signal delivery.
type process struct {
	cmd       *exec.Cmd
	paused    bool
	cancelled bool
}

// Local runs tasks as shell subprocesses on the host. Each task runs in its
// own process group so pause, resume and cancel reach the whole tree, and in
// its own working directory which backs the task-files API.
type Local struct {
	config LocalConfig
	logger logging.Logger

	mu    sync.RWMutex
	procs map[string]*process
}

var _ ports.ExecutionBackend = (*Local)(nil)

func NewLocal(cfg LocalConfig, logger logging.Logger) (*Local, error) {
	defaults := DefaultLocalConfig()
	if cfg.Shell == "" {
		cfg.Shell = defaults.Shell
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = defaults.MaxOutput
	}
	if cfg.MaxFileRead <= 0 {
		cfg.MaxFileRead = defaults.MaxFileRead
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work dir is required")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Local{
		config: cfg,
		logger: logging.OrNop(logger),
		procs:  make(map[string]*process),
	}, nil
}

// Execute runs the task description as a shell script, streaming each output
// line as an event, and blocks until the process exits or the timeout fires.
func (l *Local) Execute(ctx context.Context, req ports.ExecutionRequest, onEvent ports.EventCallback) (*ports.ExecutionResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = l.config.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := l.taskDir(req.TaskID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}

	cmd := exec.CommandContext(runCtx, l.config.Shell, "-c", req.Description)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	proc := &process{cmd: cmd}
	l.mu.Lock()
	l.procs[req.TaskID] = proc
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.procs, req.TaskID)
		l.mu.Unlock()
	}()

	var (
		output  strings.Builder
		outMu   sync.Mutex
		readers sync.WaitGroup
	)
	collect := func(reader io.Reader, stderrSource bool) {
		defer readers.Done()
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if stderrSource {
				line = "[stderr] " + line
			}
			outMu.Lock()
			if output.Len() < l.config.MaxOutput {
				output.WriteString(line)
				output.WriteByte('\n')
			}
			outMu.Unlock()
			if onEvent != nil {
				onEvent(ports.NewExecutionEvent("output", line, nil))
			}
		}
	}
	readers.Add(2)
	go collect(stdout, false)
	go collect(stderr, true)

	readers.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(started)

	outMu.Lock()
	collected := strings.TrimRight(output.String(), "\n")
	outMu.Unlock()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	result := &ports.ExecutionResult{
		Output:   collected,
		Duration: duration,
		ExitCode: &exitCode,
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Status = ports.ExecutionTimeout
		result.Error = fmt.Sprintf("execution timed out after %s", timeout)
		if onEvent != nil {
			onEvent(ports.NewExecutionEvent("abort", result.Error, nil))
		}
	case waitErr != nil:
		result.Status = ports.ExecutionError
		result.Error = waitErr.Error()
		l.mu.RLock()
		if proc.cancelled {
			result.Error = "cancelled by control signal"
		}
		l.mu.RUnlock()
		if onEvent != nil {
			onEvent(ports.NewExecutionEvent("error", result.Error, nil))
		}
	default:
		result.Status = ports.ExecutionSuccess
		if onEvent != nil {
			onEvent(ports.NewExecutionEvent("complete", "process exited", map[string]any{"exit_code": exitCode}))
		}
	}
	return result, nil
}

// CancelTask kills the task's process group. Returns false when no live
// process is tracked for the task.
func (l *Local) CancelTask(_ context.Context, taskID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	proc, ok := l.procs[taskID]
	if !ok {
		return false, nil
	}
	proc.cancelled = true
	if err := l.signalGroup(proc, syscall.SIGKILL); err != nil {
		return false, fmt.Errorf("kill task %s: %w", taskID, err)
	}
	return true, nil
}

// PauseTask stops the task's process group with SIGSTOP.
func (l *Local) PauseTask(_ context.Context, taskID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	proc, ok := l.procs[taskID]
	if !ok {
		return false, nil
	}
	if proc.paused {
		return true, nil
	}
	if err := l.signalGroup(proc, syscall.SIGSTOP); err != nil {
		return false, fmt.Errorf("pause task %s: %w", taskID, err)
	}
	proc.paused = true
	return true, nil
}

// ResumeTask continues a previously paused process group with SIGCONT.
func (l *Local) ResumeTask(_ context.Context, taskID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	proc, ok := l.procs[taskID]
	if !ok {
		return false, nil
	}
	if !proc.paused {
		return true, nil
	}
	if err := l.signalGroup(proc, syscall.SIGCONT); err != nil {
		return false, fmt.Errorf("resume task %s: %w", taskID, err)
	}
	proc.paused = false
	return true, nil
}

func (l *Local) IsTaskActive(_ context.Context, taskID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.procs[taskID]
	return ok
}

// TaskFiles lists files under the task's working directory, relative paths.
func (l *Local) TaskFiles(_ context.Context, taskID string) ([]string, error) {
	dir, err := l.taskDir(taskID)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walk task dir: %w", err)
	}
	return files, nil
}

// ReadTaskFile returns a task workspace file's content, size-capped. The path
// must stay inside the task directory.
func (l *Local) ReadTaskFile(_ context.Context, taskID, path string) (string, error) {
	dir, err := l.taskDir(taskID)
	if err != nil {
		return "", err
	}
	full := filepath.Join(dir, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the task dir", path)
	}
	f, err := os.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(l.config.MaxFileRead)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Local) taskDir(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, "/\\") {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	return filepath.Join(l.config.WorkDir, taskID), nil
}

// signalGroup delivers sig to the process group; falls back to the process
// itself when the group signal fails.
func (l *Local) signalGroup(proc *process, sig syscall.Signal) error {
	if proc.cmd == nil || proc.cmd.Process == nil {
		return fmt.Errorf("no process")
	}
	pid := proc.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		l.logger.Warn("group signal %s to pgid %d failed, signalling pid directly: %v", sig, pid, err)
		return proc.cmd.Process.Signal(sig)
	}
	return nil
}
