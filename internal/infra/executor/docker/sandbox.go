package docker

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
)

//go:embed harness.py
var harness []byte

// Options configures the container each execution runs in.
type Options struct {
	Binary  string // docker CLI, "docker" by default
	Image   string // must ship python with pandas, numpy and plotly
	WorkDir string // host directory for per-run scratch dirs
	Memory  string
	CPUs    string
	Network string
}

func (o *Options) defaults() {
	if o.Binary == "" {
		o.Binary = "docker"
	}
	if o.Image == "" {
		o.Image = "datalyst/sandbox:latest"
	}
	if o.WorkDir == "" {
		o.WorkDir = filepath.Join(".", "temp")
	}
	if o.Memory == "" {
		o.Memory = "512m"
	}
	if o.CPUs == "" {
		o.CPUs = "1"
	}
	if o.Network == "" {
		o.Network = "none"
	}
}

// Sandbox runs generated python in a throwaway container. Each execution
// gets a fresh interpreter and namespace.
type Sandbox struct {
	opts Options
	log  *zap.Logger

	mu         sync.Mutex
	randSource *rand.Rand
}

func NewSandbox(opts Options, log *zap.Logger) *Sandbox {
	opts.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Sandbox{
		opts:       opts,
		log:        log,
		randSource: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// input is what the harness reads from /work/input.json.
type input struct {
	Code     string             `json:"code"`
	Function string             `json:"function"`
	Arg      string             `json:"arg"`
	Datasets []*dataset.Dataset `json:"datasets"`
}

// result is what the harness writes to /work/result.json.
type result struct {
	OK               bool             `json:"ok"`
	Dataset          *dataset.Dataset `json:"dataset"`
	Figures          []string         `json:"figures"`
	ExceptionMessage string           `json:"exception_message"`
	Traceback        string           `json:"traceback"`
	Stdout           string           `json:"stdout"`
	Stderr           string           `json:"stderr"`
}

func (s *Sandbox) Execute(ctx context.Context, ex analysis.Execution) (analysis.Output, error) {
	if strings.TrimSpace(ex.Code) == "" {
		return analysis.Output{}, &analysis.ExecutionError{Message: "no code to execute"}
	}
	dir, err := s.prepare(ex)
	if err != nil {
		return analysis.Output{}, err
	}
	defer os.RemoveAll(dir)
	name := filepath.Base(dir)

	start := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.opts.Binary, s.args(name, dir)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if ctx.Err() != nil {
		// killing the CLI leaves the container running
		if err := exec.Command(s.opts.Binary, "kill", name).Run(); err != nil {
			s.log.Debug("container kill failed", zap.String("container", name), zap.Error(err))
		}
		return analysis.Output{}, ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		var ee *exec.ExitError
		if !errors.As(runErr, &ee) {
			return analysis.Output{}, fmt.Errorf("run error: %w", runErr)
		}
		exitCode = ee.ExitCode()
	}
	s.log.Debug("sandbox finished",
		zap.String("entrypoint", ex.Entrypoint.Function),
		zap.Int("exit_code", exitCode),
		zap.Duration("duration", time.Since(start)),
	)

	raw, err := os.ReadFile(filepath.Join(dir, "result.json"))
	if err != nil {
		return analysis.Output{}, &analysis.ExecutionError{
			Message: fmt.Sprintf("sandbox exited with code %d and no result", exitCode),
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		}
	}
	return decodeResult(raw)
}

// prepare writes the harness, the code and the bound datasets into a new
// scratch directory and returns its absolute path.
func (s *Sandbox) prepare(ex analysis.Execution) (string, error) {
	s.mu.Lock()
	n := s.randSource.Int()
	s.mu.Unlock()

	dir, err := filepath.Abs(filepath.Join(s.opts.WorkDir, fmt.Sprintf("datalyst-exec-%d", n)))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	var bound []*dataset.Dataset
	for _, d := range ex.Datasets {
		if d != nil {
			bound = append(bound, d)
		}
	}
	in, err := json.Marshal(input{
		Code:     ex.Code,
		Function: ex.Entrypoint.Function,
		Arg:      ex.Entrypoint.Arg,
		Datasets: bound,
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("encode input: %w", err)
	}
	for name, b := range map[string][]byte{"harness.py": harness, "input.json": in} {
		if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}
	return dir, nil
}

// Ping checks that the docker daemon answers and the sandbox image is
// present locally.
func (s *Sandbox) Ping(ctx context.Context) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.opts.Binary, "image", "inspect", "--format", "{{.Id}}", s.opts.Image)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("sandbox image %s: %s", s.opts.Image, msg)
		}
		return fmt.Errorf("sandbox image %s: %w", s.opts.Image, err)
	}
	return nil
}

func (s *Sandbox) args(name, dir string) []string {
	return []string{
		"run", "--rm",
		"--name", name,
		"--network", s.opts.Network,
		"--memory", s.opts.Memory,
		"--cpus", s.opts.CPUs,
		"--pids-limit", "128",
		"-v", fmt.Sprintf("%s:/work", dir),
		"-w", "/work",
		s.opts.Image,
		"python", "/work/harness.py",
	}
}

func decodeResult(raw []byte) (analysis.Output, error) {
	var r result
	if err := json.Unmarshal(raw, &r); err != nil {
		return analysis.Output{}, &analysis.ExecutionError{Message: "unreadable sandbox result: " + err.Error()}
	}
	if !r.OK {
		msg := r.ExceptionMessage
		if msg == "" {
			msg = "generated code failed without a message"
		}
		return analysis.Output{}, &analysis.ExecutionError{
			Message:   msg,
			Stdout:    r.Stdout,
			Stderr:    r.Stderr,
			Traceback: r.Traceback,
		}
	}
	return analysis.Output{
		Dataset: r.Dataset,
		Figures: r.Figures,
		Stdout:  r.Stdout,
		Stderr:  r.Stderr,
	}, nil
}
