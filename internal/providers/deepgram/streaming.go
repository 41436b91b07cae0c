package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aura/internal/audio"
	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/metrics"
	"aura/internal/ports"
)

const (
	writeTimeout = 10 * time.Second
	closeGrace   = 2 * time.Second
)

// Close codes the service uses when it rejects the credential.
var authCloseCodes = map[int]bool{
	websocket.CloseProtocolError:   true,
	websocket.ClosePolicyViolation: true,
	4001:                           true,
	4401:                           true,
}

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

// Provider implements ports.TranscriptionProvider for Deepgram.
type Provider struct {
	cfg     Config
	dialer  *websocket.Dialer
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewProvider(cfg Config, log *logger.Logger, m *metrics.Metrics) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer, log: log.Named("deepgram"), metrics: m}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, domain.NewSessionError(domain.ErrorKindAuthenticationFailed, "DEEPGRAM_API_KEY is not configured", nil)
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, domain.NewSessionError(domain.ErrorKindConnection, "invalid Deepgram endpoint", err)
	}

	// The credential travels in the handshake, never in the URL.
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, classifyDialErr(resp, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	p.log.Info("Connected to Deepgram", logger.String("model", p.cfg.Model))
	return newStreamingSession(conn, p.log, p.metrics), nil
}

type streamingSession struct {
	conn *websocket.Conn

	events   chan domain.TranscriptEvent
	audio    chan []byte
	closing  chan struct{}
	readDone chan struct{}
	done     chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once

	log     *logger.Logger
	metrics *metrics.Metrics
}

func newStreamingSession(conn *websocket.Conn, log *logger.Logger, m *metrics.Metrics) *streamingSession {
	session := &streamingSession{
		conn:     conn,
		events:   make(chan domain.TranscriptEvent, 64),
		audio:    make(chan []byte, 32),
		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		log:      log,
		metrics:  m,
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		_ = conn.Close()
		close(session.done)
	}()

	return session
}

// SendAudio queues one frame; frames are written in the order they are queued.
func (s *streamingSession) SendAudio(frame domain.AudioFrame) error {
	if len(frame.Samples) == 0 {
		return nil
	}

	payload := audio.EncodePCM16LE(frame.Samples)
	select {
	case <-s.closing:
		return errors.New("audio stream is already closed")
	default:
	}

	select {
	case s.audio <- payload:
		return nil
	case <-s.closing:
		return errors.New("audio stream is already closed")
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close sends a normal closure frame and waits for teardown.
func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		go func() {
			select {
			case <-s.done:
			case <-time.After(closeGrace + writeTimeout):
				_ = s.conn.Close()
			}
		}()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.writeBinary(chunk); err != nil {
				if !s.isClosing() {
					s.setErr(domain.NewSessionError(domain.ErrorKindConnection, "failed to send audio", err))
				}
				_ = s.conn.Close()
				return
			}
		case <-s.closing:
			s.drainAndClose()
			return
		case <-s.readDone:
			return
		}
	}
}

func (s *streamingSession) drainAndClose() {
drain:
	for {
		select {
		case chunk := <-s.audio:
			if err := s.writeBinary(chunk); err != nil {
				_ = s.conn.Close()
				return
			}
		default:
			break drain
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "user stopped recording")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err != nil {
		_ = s.conn.Close()
		return
	}

	// Give the server a moment to echo the close before dropping the connection.
	go func() {
		select {
		case <-s.done:
		case <-time.After(closeGrace):
			_ = s.conn.Close()
		}
	}()
}

func (s *streamingSession) writeBinary(chunk []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.FramesSent.Inc()
	}
	return nil
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosing() {
				s.setErr(classifyReadErr(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			s.log.Warn("Discarding malformed transcription message",
				logger.Error(domain.NewSessionError(domain.ErrorKindProtocolParse, "", err)),
				logger.Int("bytes", len(payload)))
			if s.metrics != nil {
				s.metrics.ParseErrors.Inc()
			}
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(domain.NewSessionError(domain.ErrorKindConnection, message, nil))
			_ = s.conn.Close()
			return
		}

		transcript := extractTranscript(response)
		if strings.TrimSpace(transcript) == "" {
			continue
		}

		s.emit(domain.TranscriptEvent{
			Text:       transcript,
			IsFinal:    response.IsFinal,
			ReceivedAt: time.Now(),
		})
	}
}

func (s *streamingSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := response.Channel.Alternatives[0].Transcript; strings.TrimSpace(text) != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return response.Results.Channels[0].Alternatives[0].Transcript
	}
	return ""
}

func classifyDialErr(resp *http.Response, err error) error {
	if resp != nil {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return domain.NewSessionError(domain.ErrorKindAuthenticationFailed,
				fmt.Sprintf("Deepgram rejected the API key (HTTP %d)", resp.StatusCode), err)
		}
		return domain.NewSessionError(domain.ErrorKindConnection,
			fmt.Sprintf("failed to connect to Deepgram (HTTP %d)", resp.StatusCode), err)
	}
	return domain.NewSessionError(domain.ErrorKindConnection, "failed to connect to Deepgram", err)
}

// classifyReadErr returns nil for a normal closure.
func classifyReadErr(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch {
		case closeErr.Code == websocket.CloseNormalClosure,
			closeErr.Code == websocket.CloseGoingAway,
			closeErr.Code == websocket.CloseNoStatusReceived:
			return nil
		case authCloseCodes[closeErr.Code]:
			return domain.NewSessionError(domain.ErrorKindAuthenticationFailed,
				fmt.Sprintf("invalid API key or authentication failed (code %d)", closeErr.Code), err)
		default:
			return domain.NewSessionError(domain.ErrorKindConnection,
				fmt.Sprintf("connection closed (code %d)", closeErr.Code), err)
		}
	}
	return domain.NewSessionError(domain.ErrorKindConnection, "transcription connection lost", err)
}

func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := providerCfg.APIBaseURL
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}
	base = strings.TrimSpace(base)

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = domain.DefaultSampleRate
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = domain.DefaultChannels
	}
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("punctuate", fmt.Sprintf("%t", streamCfg.Punctuate))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	if providerCfg.SmartFormat {
		query.Set("smart_format", "true")
	}
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
