package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	minBlockSize = 256
	maxBlockSize = 16384
)

// Config stores runtime configuration for the desktop app and analysisd.
type Config struct {
	Deepgram  DeepgramConfig  `toml:"deepgram" yaml:"deepgram"`
	Audio     AudioConfig     `toml:"audio" yaml:"audio"`
	Analysis  AnalysisConfig  `toml:"analysis" yaml:"analysis"`
	Rules     RulesConfig     `toml:"rules" yaml:"rules"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Analysisd AnalysisdConfig `toml:"analysisd" yaml:"analysisd"`
}

type DeepgramConfig struct {
	APIKey      string `toml:"api_key" yaml:"api_key"`
	APIBaseURL  string `toml:"api_base_url" yaml:"api_base_url"`
	Model       string `toml:"model" yaml:"model"`
	Language    string `toml:"language" yaml:"language"`
	Punctuate   bool   `toml:"punctuate" yaml:"punctuate"`
	SmartFormat bool   `toml:"smart_format" yaml:"smart_format"`
}

type AudioConfig struct {
	RecorderCommand  string `toml:"recorder_command" yaml:"recorder_command"`
	InputFormat      string `toml:"input_format" yaml:"input_format"`
	InputDevice      string `toml:"input_device" yaml:"input_device"`
	SampleRate       int    `toml:"sample_rate" yaml:"sample_rate"`
	Channels         int    `toml:"channels" yaml:"channels"`
	BlockSize        int    `toml:"block_size" yaml:"block_size"`
	EchoCancellation bool   `toml:"echo_cancellation" yaml:"echo_cancellation"`
	EchoCancelDevice string `toml:"echo_cancel_device" yaml:"echo_cancel_device"`
	NoiseSuppression bool   `toml:"noise_suppression" yaml:"noise_suppression"`
	AutoGain         bool   `toml:"auto_gain" yaml:"auto_gain"`
}

type AnalysisConfig struct {
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	TimeoutMS int    `toml:"timeout_ms" yaml:"timeout_ms"`
}

// Timeout returns the per-request analysis timeout.
func (c AnalysisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type RulesConfig struct {
	Path           string `toml:"path" yaml:"path"`
	IterationLimit int    `toml:"iteration_limit" yaml:"iteration_limit"`
}

// ServerConfig controls the observer HTTP surface. An empty address disables it.
type ServerConfig struct {
	Address string `toml:"address" yaml:"address"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

type AnalysisdConfig struct {
	Address       string `toml:"address" yaml:"address"`
	Provider      string `toml:"provider" yaml:"provider"`
	OpenAIAPIKey  string `toml:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL string `toml:"openai_base_url" yaml:"openai_base_url"`
	OpenAIModel   string `toml:"openai_model" yaml:"openai_model"`
	GeminiAPIKey  string `toml:"gemini_api_key" yaml:"gemini_api_key"`
	GeminiModel   string `toml:"gemini_model" yaml:"gemini_model"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Deepgram: DeepgramConfig{
			APIBaseURL: "https://api.deepgram.com/v1",
			Model:      "nova-2",
			Punctuate:  true,
		},
		Audio: AudioConfig{
			RecorderCommand:  "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			SampleRate:       16000,
			Channels:         1,
			BlockSize:        4096,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGain:         true,
		},
		Analysis: AnalysisConfig{
			Endpoint:  "http://localhost:8000/process_text",
			TimeoutMS: 15000,
		},
		Rules: RulesConfig{
			IterationLimit: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Analysisd: AnalysisdConfig{
			Address:     ":8000",
			Provider:    "openai",
			OpenAIModel: "gpt-3.5-turbo",
			GeminiModel: "gemini-2.0-flash",
		},
	}
}

// Load resolves configuration from defaults, an optional TOML or YAML file,
// and environment variables, in that order. An empty path falls back to
// AURA_CONFIG; when neither is set no file is read.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("AURA_CONFIG"))
	}
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.Rules.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Rules.Path = firstExisting(
				filepath.Join(home, ".config", "aura", "substitutions.rules"),
				filepath.Join(home, ".config", "aura", "analysis.rules"),
			)
		}
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", path)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("failed to decode config file: %w", err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.Punctuate = envOrDefaultBool("DEEPGRAM_PUNCTUATE", cfg.Deepgram.Punctuate)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)

	cfg.Audio.RecorderCommand = envOrDefault("AURA_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("AURA_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("AURA_AUDIO_INPUT_DEVICE"), os.Getenv("PULSE_SOURCE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("AURA_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("AURA_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.BlockSize = envOrDefaultInt("AURA_BLOCK_SIZE", cfg.Audio.BlockSize)
	cfg.Audio.EchoCancellation = envOrDefaultBool("AURA_ECHO_CANCELLATION", cfg.Audio.EchoCancellation)
	cfg.Audio.EchoCancelDevice = envOrDefault("AURA_ECHO_CANCEL_DEVICE", cfg.Audio.EchoCancelDevice)
	cfg.Audio.NoiseSuppression = envOrDefaultBool("AURA_NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)
	cfg.Audio.AutoGain = envOrDefaultBool("AURA_AUTO_GAIN", cfg.Audio.AutoGain)

	cfg.Analysis.Endpoint = envOrDefault("AURA_ANALYSIS_ENDPOINT", cfg.Analysis.Endpoint)
	cfg.Analysis.TimeoutMS = envOrDefaultInt("AURA_ANALYSIS_TIMEOUT_MS", cfg.Analysis.TimeoutMS)

	cfg.Rules.Path = envOrDefault("AURA_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("AURA_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Server.Address = envOrDefault("AURA_HTTP_ADDR", cfg.Server.Address)

	cfg.Logging.Level = envOrDefault("AURA_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("AURA_LOG_FORMAT", cfg.Logging.Format)

	cfg.Analysisd.Address = envOrDefault("ANALYSISD_ADDR", cfg.Analysisd.Address)
	cfg.Analysisd.Provider = envOrDefault("ANALYSISD_PROVIDER", cfg.Analysisd.Provider)
	cfg.Analysisd.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.Analysisd.OpenAIAPIKey)
	cfg.Analysisd.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", cfg.Analysisd.OpenAIBaseURL)
	cfg.Analysisd.OpenAIModel = envOrDefault("OPENAI_MODEL", cfg.Analysisd.OpenAIModel)
	cfg.Analysisd.GeminiAPIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"), cfg.Analysisd.GeminiAPIKey)
	cfg.Analysisd.GeminiModel = envOrDefault("GEMINI_MODEL", cfg.Analysisd.GeminiModel)
}

func (c *Config) normalize() error {
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	c.Audio.BlockSize = normalizeBlockSize(c.Audio.BlockSize)
	if c.Analysis.TimeoutMS <= 0 {
		c.Analysis.TimeoutMS = 15000
	}
	if c.Rules.IterationLimit <= 0 {
		c.Rules.IterationLimit = 30
	}

	c.Analysisd.Provider = strings.ToLower(strings.TrimSpace(c.Analysisd.Provider))
	switch c.Analysisd.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported analysisd provider %q", c.Analysisd.Provider)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Logging.Format)
	}
	return nil
}

// normalizeBlockSize clamps size to [256, 16384] and rounds it up to a power of two.
func normalizeBlockSize(size int) int {
	if size <= 0 {
		return 4096
	}
	if size < minBlockSize {
		return minBlockSize
	}
	if size > maxBlockSize {
		return maxBlockSize
	}
	power := minBlockSize
	for power < size {
		power <<= 1
	}
	return power
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
