package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/ports"
)

const startupWait = 250 * time.Millisecond

// FFMPEGCapture streams microphone audio through ffmpeg and converts it into
// fixed-size PCM frames.
type FFMPEGCapture struct {
	command string
	log     *logger.Logger
}

func NewFFMPEGCapture(command string, log *logger.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FFMPEGCapture{command: command, log: log.Named("audio")}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig, consumer ports.FrameConsumer) (ports.AudioSession, error) {
	if consumer == nil {
		return nil, errors.New("audio capture requires a frame consumer")
	}
	cfg = normalizeConfig(cfg)

	cmd := exec.CommandContext(ctx, c.command, buildArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("%w: failed to start %s: %v", domain.ErrDeviceUnavailable, c.command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", domain.ErrDeviceUnavailable, err, detail)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", domain.ErrDeviceUnavailable)
	case <-time.After(startupWait):
	}

	session := &ffmpegSession{
		stdout:   pr,
		stderr:   &stderr,
		process:  cmd.Process,
		waitErr:  waitErr,
		consumer: consumer,
		cfg:      cfg,
		done:     make(chan struct{}),
		log:      c.log,
	}
	go session.readLoop()

	c.log.Info("Audio capture started",
		logger.String("device", inputDevice(cfg)),
		logger.String("format", cfg.InputFormat),
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("block_size", cfg.BlockSize))
	return session, nil
}

type ffmpegSession struct {
	stdout *io.PipeReader
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	consumer ports.FrameConsumer
	cfg      ports.AudioConfig

	stopped atomic.Bool
	done    chan struct{}

	errMu sync.Mutex
	err   error

	stopOnce sync.Once
	stopErr  error

	log *logger.Logger
}

func (s *ffmpegSession) Done() <-chan struct{} {
	return s.done
}

func (s *ffmpegSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stop releases the device. No frame is delivered after Stop returns.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}
		// Unblocks both the reader and ffmpeg's stdout copy.
		_ = s.stdout.Close()

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		<-s.done

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
		s.log.Info("Audio capture stopped")
	})

	return s.stopErr
}

func (s *ffmpegSession) readLoop() {
	defer close(s.done)

	reader := bufio.NewReaderSize(s.stdout, s.cfg.BlockSize*4)
	buf := make([]byte, s.cfg.BlockSize*4)
	for {
		n, err := io.ReadFull(reader, buf)
		if n >= 4 {
			s.emit(DecodeFloat32LE(buf[:n]))
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.ErrClosedPipe) {
			s.setErr(fmt.Errorf("audio capture read failed: %w", err))
		} else if !s.stopped.Load() {
			s.setErr(fmt.Errorf("%w: audio capture ended unexpectedly", domain.ErrDeviceUnavailable))
		}
		return
	}
}

func (s *ffmpegSession) emit(samples []float32) {
	if s.stopped.Load() {
		return
	}
	s.consumer(domain.AudioFrame{
		Samples:    ConvertSamples(samples),
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	})
}

func (s *ffmpegSession) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func normalizeConfig(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = domain.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = domain.DefaultChannels
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = domain.DefaultBlockSize
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func inputDevice(cfg ports.AudioConfig) string {
	if cfg.EchoCancellation && strings.TrimSpace(cfg.EchoCancelDevice) != "" {
		return strings.TrimSpace(cfg.EchoCancelDevice)
	}
	return cfg.InputDevice
}

func buildArgs(cfg ports.AudioConfig) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", inputDevice(cfg),
	}

	var filters []string
	if cfg.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if cfg.AutoGain {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	return append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	)
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
