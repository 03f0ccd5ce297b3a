package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "FR_MASTER_LISTEN_ADDR"
	envVarMode            = "FR_MASTER_MODE"
	envVarLogFormat       = "FR_MASTER_LOG_FORMAT"
	envVarLogLevel        = "FR_MASTER_LOG_LEVEL"
	envVarShutdownTimeout = "FR_MASTER_SHUTDOWN_TIMEOUT"
	envVarDBPath          = "FR_MASTER_DB_PATH"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Auth for the realtime channel and login tokens.
	envVarAuthMode  = "AUTH_MODE"
	envVarJWTSecret = "JWT_SECRET"
	envVarTokenTTL  = "TOKEN_TTL"

	// WebSocket hardening.
	envVarWSAuthTimeout        = "WS_AUTH_TIMEOUT"
	envVarWSIdleTimeout        = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "MAX_WS_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_WS_MESSAGES_PER_SECOND"

	// Lobby behavior.
	envVarDefaultMaxPlayers = "LOBBY_DEFAULT_MAX_PLAYERS"

	// Ephemeral TURN credentials (TURN REST). When the secret is set, the
	// static TURN credentials in the ICE config are replaced per request.
	envVarTURNRestSecret = "TURN_REST_SECRET"
	envVarTURNRestTTL    = "TURN_REST_TTL"
)

const (
	DefaultListenAddr = "127.0.0.1:3000"
	DefaultDBPath     = "./fractured_reality.db"
	DefaultShutdown   = 15 * time.Second
	DefaultTokenTTL   = 24 * time.Hour

	DefaultTURNRestTTL = 10 * time.Minute

	DefaultWSAuthTimeout        = 5 * time.Second
	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024)
	DefaultMaxMessagesPerSecond = 50

	// DefaultMaxPlayers matches the lobby capacity applied when a create
	// request does not specify one.
	DefaultMaxPlayers = 5

	DefaultMode     Mode     = ModeDev
	DefaultAuthMode AuthMode = AuthModeNone
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// AuthMode controls how the realtime authenticate event is validated.
//
// AuthModeNone trusts the client-supplied identity (development only).
// AuthModeJWT requires the token minted by POST /api/login; the session
// identity is taken from the verified claims, not the message body.
type AuthMode string

const (
	AuthModeNone AuthMode = "none"
	AuthModeJWT  AuthMode = "jwt"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	DBPath          string
	AllowedOrigins  []string

	AuthMode  AuthMode
	JWTSecret string
	TokenTTL  time.Duration

	WSAuthTimeout        time.Duration
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	DefaultMaxPlayers int

	// ICEServers is the STUN/TURN list handed to clients via GET /webrtc/ice
	// for their RTCPeerConnection config. The server itself never dials them.
	ICEServers []webrtc.ICEServer

	TURNRestSecret string
	TURNRestTTL    time.Duration

	iceConfigErr error
}

func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := string(DefaultMode)
	if v, ok := lookup(envVarMode); ok && strings.TrimSpace(v) != "" {
		modeDefault = strings.TrimSpace(v)
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	dbPath := envOrDefault(lookup, envVarDBPath, DefaultDBPath)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRestSecret := envOrDefault(lookup, envVarTURNRestSecret, "")

	authModeDefault := string(DefaultAuthMode)
	if v, ok := lookup(envVarAuthMode); ok && strings.TrimSpace(v) != "" {
		authModeDefault = strings.TrimSpace(v)
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	tokenTTL, err := envDurationOrDefault(lookup, envVarTokenTTL, DefaultTokenTTL)
	if err != nil {
		return Config{}, err
	}
	wsAuthTimeout, err := envDurationOrDefault(lookup, envVarWSAuthTimeout, DefaultWSAuthTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	turnRestTTL, err := envDurationOrDefault(lookup, envVarTURNRestTTL, DefaultTURNRestTTL)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	defaultMaxPlayers, err := envIntOrDefault(lookup, envVarDefaultMaxPlayers, DefaultMaxPlayers)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("fr-master-server", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		authModeStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&dbPath, "db-path", dbPath, "SQLite database path (env "+envVarDBPath+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&authModeStr, "auth-mode", authModeDefault, "Realtime auth mode: none or jwt (env "+envVarAuthMode+")")
	fs.DurationVar(&tokenTTL, "token-ttl", tokenTTL, "Login token lifetime (env "+envVarTokenTTL+")")
	fs.DurationVar(&wsAuthTimeout, "ws-auth-timeout", wsAuthTimeout, "Close unauthenticated WebSocket connections after this duration (env "+envVarWSAuthTimeout+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close idle WebSocket connections after this duration (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Send ping frames at this interval (must be < --ws-idle-timeout; env "+envVarWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-ws-message-bytes", maxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-ws-messages-per-second", maxMessagesPerSecond, "Max inbound WebSocket messages per second per connection (env "+envVarMaxMessagesPerSecond+")")
	fs.IntVar(&defaultMaxPlayers, "lobby-default-max-players", defaultMaxPlayers, "Lobby capacity applied when create_lobby omits maxPlayers (env "+envVarDefaultMaxPlayers+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")
	fs.StringVar(&turnRestSecret, "turn-rest-secret", turnRestSecret, "Shared secret for ephemeral TURN credentials (env "+envVarTURNRestSecret+")")
	fs.DurationVar(&turnRestTTL, "turn-rest-ttl", turnRestTTL, "Lifetime of ephemeral TURN credentials (env "+envVarTURNRestTTL+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if dbPath == "" {
		return Config{}, fmt.Errorf("%s/--db-path must not be empty", envVarDBPath)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if authMode == AuthModeJWT && strings.TrimSpace(jwtSecret) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
	}
	if tokenTTL <= 0 {
		return Config{}, fmt.Errorf("%s/--token-ttl must be > 0", envVarTokenTTL)
	}
	if wsAuthTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-auth-timeout must be > 0", envVarWSAuthTimeout)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > 0", envVarWSIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0", envVarWSPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be < %s/--ws-idle-timeout", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-ws-message-bytes must be > 0", envVarMaxMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-ws-messages-per-second must be > 0", envVarMaxMessagesPerSecond)
	}
	if defaultMaxPlayers <= 0 {
		return Config{}, fmt.Errorf("%s/--lobby-default-max-players must be > 0", envVarDefaultMaxPlayers)
	}
	if turnRestSecret != "" && turnRestTTL <= 0 {
		return Config{}, fmt.Errorf("%s/--turn-rest-ttl must be > 0", envVarTURNRestTTL)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		DBPath:          dbPath,
		AllowedOrigins:  splitCommaSeparated(allowedOriginsStr),

		AuthMode:  authMode,
		JWTSecret: jwtSecret,
		TokenTTL:  tokenTTL,

		WSAuthTimeout:        wsAuthTimeout,
		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,

		DefaultMaxPlayers: defaultMaxPlayers,

		TURNRestSecret: turnRestSecret,
		TURNRestTTL:    turnRestTTL,
	}

	// An invalid ICE config must not prevent startup: presence/lobbies/relay
	// keep working, readiness reports the problem instead.
	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaSeparated(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid auth mode %q (expected none or jwt)", raw)
	}
}
