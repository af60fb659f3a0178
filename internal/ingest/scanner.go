package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrScanFailed indicates the scanner could not produce a verdict
	// (timeout, missing binary, unexpected exit). Treated fail-closed.
	ErrScanFailed = errors.New("content scan failed")
)

// Verdict is the outcome of a content scan.
type Verdict int

const (
	// VerdictClean means the scanner found nothing.
	VerdictClean Verdict = iota

	// VerdictInfected means the scanner detected a threat.
	VerdictInfected
)

// ScanResult carries the verdict and, for detections, the signature name.
type ScanResult struct {
	Verdict   Verdict
	Signature string
}

// Scanner checks attachment bytes for malicious content.
type Scanner interface {
	// Scan returns a verdict, or an error when no verdict could be
	// produced. Callers treat errors as fail-closed.
	Scan(ctx context.Context, filename string, content []byte) (ScanResult, error)
}

// ScannerConfig configures the subprocess scanner.
type ScannerConfig struct {
	// Command is the scanner binary (default clamscan).
	Command string

	// Args are passed before the stdin marker.
	Args []string

	// Timeout is the hard per-scan deadline. On expiry the scan fails
	// closed.
	Timeout time.Duration

	// MaxPerSecond throttles subprocess launches. Zero means 4/s.
	MaxPerSecond int
}

// CommandScanner runs an external AV binary per attachment, feeding
// content on stdin. Exit code 0 is clean, 1 is a detection, anything
// else is a scan failure.
type CommandScanner struct {
	cfg     ScannerConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewCommandScanner creates a subprocess scanner.
func NewCommandScanner(cfg ScannerConfig, logger *zap.Logger) *CommandScanner {
	if cfg.Command == "" {
		cfg.Command = "clamscan"
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{"--no-summary", "--stdout"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPerSecond <= 0 {
		cfg.MaxPerSecond = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandScanner{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), cfg.MaxPerSecond),
		logger:  logger,
	}
}

// Scan pipes the content through the scanner binary.
func (s *CommandScanner) Scan(ctx context.Context, filename string, content []byte) (ScanResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return ScanResult{}, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	args := append(append([]string{}, s.cfg.Args...), "-")
	cmd := exec.CommandContext(scanCtx, s.cfg.Command, args...)
	cmd.Stdin = bytes.NewReader(content)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	start := time.Now()
	err := cmd.Run()
	observeScan(time.Since(start))

	if err == nil {
		return ScanResult{Verdict: VerdictClean}, nil
	}

	if scanCtx.Err() == context.DeadlineExceeded {
		s.logger.Warn("content scan timed out",
			zap.String("filename", filename),
			zap.Duration("timeout", s.cfg.Timeout))
		return ScanResult{}, fmt.Errorf("%w: timeout after %s", ErrScanFailed, s.cfg.Timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return ScanResult{
			Verdict:   VerdictInfected,
			Signature: parseSignature(stdout.String()),
		}, nil
	}

	return ScanResult{}, fmt.Errorf("%w: %v", ErrScanFailed, err)
}

// parseSignature extracts the detection name from clamscan output
// ("stream: Eicar-Signature FOUND").
func parseSignature(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, "FOUND") {
			continue
		}
		if _, rest, ok := strings.Cut(line, ": "); ok {
			return strings.TrimSpace(strings.TrimSuffix(rest, "FOUND"))
		}
	}
	return "unknown"
}

// NoopScanner reports every attachment clean. Used when scanning is
// disabled in configuration.
type NoopScanner struct{}

func (NoopScanner) Scan(context.Context, string, []byte) (ScanResult, error) {
	return ScanResult{Verdict: VerdictClean}, nil
}
