package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options for the relay daemon and the viewer.
type RelayConfig struct {
	Environment string
	ListenAddr  string
	// Session store backend: memory | redis
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Tick ledger backend: sqlite | postgres | none
	LedgerBackend string
	LedgerPath    string
	LedgerDSN     string
	// Completion source: auto | gemini | loopback. Auto picks gemini when an
	// API key is configured and falls back to loopback otherwise.
	CompletionSource string
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiModel      string
	RequestTimeout   time.Duration
	// SSE keepalive cadence for watch streams
	SSEPingInterval time.Duration
	// Viewer behaviour
	TypewriterInterval   time.Duration
	TypewriterStartDelay time.Duration
	AutoscrollThreshold  int
	DedupStrategy        string // timestamp | suffix
	// Logging. The daemon file is preferred; LogFile is the shared fallback.
	LogFile       string
	LogFileDaemon string
	LogLevel      string
}

// LoadRelayConfig reads the current environment and loads the appropriate
// relay config file, applying KRAKEN_* env overrides on top.
func LoadRelayConfig(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := RelayConfig{
		Environment:   s.Environment,
		ListenAddr:    firstNonEmpty(os.Getenv("KRAKEN_LISTEN_ADDR"), merged["listen_addr"], ":8090"),
		StoreBackend:  strings.ToLower(firstNonEmpty(os.Getenv("KRAKEN_STORE_BACKEND"), merged["store_backend"], "memory")),
		RedisAddr:     firstNonEmpty(os.Getenv("KRAKEN_REDIS_ADDR"), merged["redis_addr"], "localhost:6379"),
		RedisPassword: firstNonEmpty(os.Getenv("KRAKEN_REDIS_PASSWORD"), merged["redis_password"]),
		RedisDB:       parseOptionalInt(firstNonEmpty(os.Getenv("KRAKEN_REDIS_DB"), merged["redis_db"]), 0),
		LedgerBackend: strings.ToLower(firstNonEmpty(os.Getenv("KRAKEN_LEDGER_BACKEND"), merged["ledger_backend"], "sqlite")),
		LedgerPath:    firstNonEmpty(os.Getenv("KRAKEN_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		LedgerDSN:     firstNonEmpty(os.Getenv("KRAKEN_LEDGER_DSN"), merged["ledger_dsn"]),
		GeminiAPIKey:  firstNonEmpty(os.Getenv("KRAKEN_GEMINI_API_KEY"), merged["gemini_api_key"]),
		GeminiBaseURL: firstNonEmpty(os.Getenv("KRAKEN_GEMINI_BASE_URL"), merged["gemini_base_url"]),
		GeminiModel:   firstNonEmpty(os.Getenv("KRAKEN_GEMINI_MODEL"), merged["gemini_model"], "gemini-1.5-flash"),
		LogLevel:      strings.ToLower(firstNonEmpty(os.Getenv("KRAKEN_LOG_LEVEL"), merged["log_level"], "info")),
	}

	cfg.CompletionSource = strings.ToLower(firstNonEmpty(os.Getenv("KRAKEN_COMPLETION_SOURCE"), merged["completion_source"], "auto"))
	switch cfg.CompletionSource {
	case "auto", "gemini", "loopback":
	default:
		return RelayConfig{}, fmt.Errorf("invalid completion_source %q", cfg.CompletionSource)
	}
	switch cfg.StoreBackend {
	case "memory", "redis":
	default:
		return RelayConfig{}, fmt.Errorf("invalid store_backend %q", cfg.StoreBackend)
	}
	switch cfg.LedgerBackend {
	case "sqlite", "postgres", "none":
	default:
		return RelayConfig{}, fmt.Errorf("invalid ledger_backend %q", cfg.LedgerBackend)
	}

	cfg.RequestTimeout, err = parseOptionalDuration(firstNonEmpty(os.Getenv("KRAKEN_REQUEST_TIMEOUT"), merged["request_timeout"]), 60*time.Second)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid request_timeout: %w", err)
	}
	cfg.SSEPingInterval, err = parseOptionalDuration(firstNonEmpty(os.Getenv("KRAKEN_SSE_PING_INTERVAL"), merged["sse_ping_interval"]), 15*time.Second)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid sse_ping_interval: %w", err)
	}

	typeMS := parseOptionalInt(firstNonEmpty(os.Getenv("KRAKEN_TYPEWRITER_INTERVAL_MS"), merged["typewriter_interval_ms"]), 20)
	cfg.TypewriterInterval = time.Duration(typeMS) * time.Millisecond
	delayMS := parseOptionalInt(firstNonEmpty(os.Getenv("KRAKEN_TYPEWRITER_START_DELAY_MS"), merged["typewriter_start_delay_ms"]), 100)
	cfg.TypewriterStartDelay = time.Duration(delayMS) * time.Millisecond
	cfg.AutoscrollThreshold = parseOptionalInt(firstNonEmpty(os.Getenv("KRAKEN_AUTOSCROLL_THRESHOLD"), merged["autoscroll_threshold"]), 50)

	cfg.DedupStrategy = strings.ToLower(firstNonEmpty(os.Getenv("KRAKEN_DEDUP_STRATEGY"), merged["dedup_strategy"], "timestamp"))
	switch cfg.DedupStrategy {
	case "timestamp", "suffix":
	default:
		return RelayConfig{}, fmt.Errorf("invalid dedup_strategy %q", cfg.DedupStrategy)
	}

	cfg.LogFile = firstNonEmpty(os.Getenv("KRAKEN_LOG_FILE"), merged["log_file"])
	cfg.LogFileDaemon = firstNonEmpty(os.Getenv("KRAKEN_LOG_FILE_DAEMON"), os.Getenv("KRAKEN_LOG_FILE"), merged["log_file_daemon"], merged["log_file"])

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

// parseOptionalDuration accepts Go duration strings; a bare number means
// seconds, matching how the original deployment configured its timeout.
func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultLedgerPath returns the fallback ledger location under the user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "relay-ledger.db"
	}
	return filepath.Join(home, ".kraken-relay", "ledger.db")
}
