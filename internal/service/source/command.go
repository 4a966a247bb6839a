package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"camstream/internal/config"
	"camstream/internal/logger"
)

// ErrNoCameraTool is returned when no camera capture tool is installed and
// no explicit command was configured.
var ErrNoCameraTool = errors.New("no compatible camera tool found")

var lookPath = exec.LookPath

// CameraCommand returns the command line that writes MJPEG to stdout.
// An explicit cfg.CameraCommand wins; otherwise rpicam-vid (Bookworm),
// libcamera-vid (Bullseye) and ffmpeg on cfg.Device are tried in order.
func CameraCommand(cfg *config.Config, lookPath func(string) (string, error)) ([]string, error) {
	if argv := strings.Fields(cfg.CameraCommand); len(argv) > 0 {
		return argv, nil
	}

	w, h, fps := strconv.Itoa(cfg.Width), strconv.Itoa(cfg.Height), strconv.Itoa(cfg.Framerate)

	for _, tool := range []string{"rpicam-vid", "libcamera-vid"} {
		if _, err := lookPath(tool); err == nil {
			return []string{tool, "-t", "0", "--width", w, "--height", h, "--framerate", fps, "--codec", "mjpeg", "-o", "-"}, nil
		}
	}

	if _, err := lookPath("ffmpeg"); err == nil {
		device := cfg.Device
		if device == "" {
			device = "/dev/video0"
		}
		return []string{
			"ffmpeg", "-loglevel", "error",
			"-f", "video4linux2", "-framerate", fps, "-video_size", w + "x" + h, "-i", device,
			"-f", "mjpeg", "-",
		}, nil
	}

	return nil, ErrNoCameraTool
}

// Command runs a camera process and streams its stdout. Each Open starts a
// fresh process, so the capture pipeline can restart a crashed camera.
type Command struct {
	argv   []string
	logger *logger.Logger
}

// NewCommand returns a Source running argv.
func NewCommand(argv []string, log *logger.Logger) *Command {
	return &Command{argv: argv, logger: log}
}

// Name returns the command line.
func (c *Command) Name() string { return strings.Join(c.argv, " ") }

// Restartable reports true: a new process is started on every Open.
func (c *Command) Restartable() bool { return true }

// Open starts the process. Its stderr is forwarded to the log. Closing the
// returned stream kills the process and reaps it.
func (c *Command) Open(ctx context.Context) (io.ReadCloser, error) {
	if len(c.argv) == 0 {
		return nil, errors.New("empty camera command")
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.WaitDelay = 2 * time.Second
	stderr := c.logger.With("camera", c.argv[0]).Writer()
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stderr.Close()
		return nil, fmt.Errorf("cmd setup: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stderr.Close()
		return nil, fmt.Errorf("cmd start: %w", err)
	}

	c.logger.Info("Starting camera with command: %s", c.Name())
	return &commandStream{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *io.PipeWriter
}

func (s *commandStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *commandStream) Close() error {
	defer s.stderr.Close()

	if s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed by us, or the camera died; either way the stream is over.
		return nil
	}
	return err
}
