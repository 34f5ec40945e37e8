package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nubster/egide/api"
	"github.com/nubster/egide/api/clients"
	"github.com/nubster/egide/common"
	"github.com/nubster/egide/config"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cfg config.LogConfig) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cfg.Debug,
		JSON:    cfg.JSON,
		Service: cfg.Service,
		Version: common.Version,
	})

	if cfg.UID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cfg *config.Config, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Log:                      logger,
		EnablePprof:              cfg.EnablePprof,
		DrainDuration:            time.Duration(cfg.DrainSeconds) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		UnsealRatePerSecond:      cfg.RateLimit.PerSecond,
		UnsealRateBurst:          cfg.RateLimit.Burst,
	}
}

// LoadConfig reads the config and env files named by the flags, then applies
// explicitly set flags on top. Flags win over EGIDE_* variables, which win
// over the config file.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFileFlag.Name), cCtx.String(EnvFileFlag.Name))
	if err != nil {
		return nil, err
	}

	if cCtx.IsSet(ListenAddrFlag.Name) {
		cfg.ListenAddr = cCtx.String(ListenAddrFlag.Name)
	}
	if cCtx.IsSet(MetricsAddrFlag.Name) {
		cfg.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(PprofFlag.Name) {
		cfg.EnablePprof = cCtx.Bool(PprofFlag.Name)
	}
	if cCtx.IsSet(DrainSecondsFlag.Name) {
		cfg.DrainSeconds = int(cCtx.Int64(DrainSecondsFlag.Name))
	}
	if cCtx.IsSet(StorageFlag.Name) {
		cfg.Storage.URI = cCtx.String(StorageFlag.Name)
	}
	if cCtx.IsSet(StorageMirrorFlag.Name) {
		cfg.Storage.Mirrors = cCtx.StringSlice(StorageMirrorFlag.Name)
	}
	if cCtx.IsSet(TenantFlag.Name) {
		cfg.Tenant = cCtx.String(TenantFlag.Name)
	}
	if cCtx.IsSet(DevFlag.Name) {
		cfg.DevMode = cCtx.Bool(DevFlag.Name)
	}
	if cCtx.IsSet(DevRootTokenFlag.Name) {
		cfg.DevRootToken = cCtx.String(DevRootTokenFlag.Name)
	}
	if cCtx.IsSet(LogJsonFlag.Name) {
		cfg.Log.JSON = cCtx.Bool(LogJsonFlag.Name)
	}
	if cCtx.IsSet(LogDebugFlag.Name) {
		cfg.Log.Debug = cCtx.Bool(LogDebugFlag.Name)
	}
	if cCtx.IsSet(LogUidFlag.Name) {
		cfg.Log.UID = cCtx.Bool(LogUidFlag.Name)
	}
	if cCtx.IsSet(LogServiceFlag.Name) {
		cfg.Log.Service = cCtx.String(LogServiceFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewClient builds an API client from AddrFlag and TokenFlag.
func NewClient(cCtx *cli.Context) *clients.Client {
	return clients.NewClient(cCtx.String(AddrFlag.Name), cCtx.String(TokenFlag.Name),
		cCtx.Duration(TimeoutFlag.Name))
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"EGIDE_CONFIG"},
	Usage:   "path to a YAML config file",
}
var EnvFileFlag = &cli.StringFlag{
	Name:  "env-file",
	Value: ".env",
	Usage: "dotenv file with EGIDE_* variables, ignored when missing",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Usage: "address to listen on for API (default 0.0.0.0:8200)",
}
var StorageFlag = &cli.StringFlag{
	Name:  "storage",
	Usage: "primary storage URI, e.g. file://./data, sqlite://./egide.db, redis://localhost:6379/0, s3://bucket/prefix, vault://host:8200/secret/egide",
}
var StorageMirrorFlag = &cli.StringSliceFlag{
	Name:  "storage-mirror",
	Usage: "additional storage URI written alongside the primary (repeatable)",
}
var TenantFlag = &cli.StringFlag{
	Name:  "tenant",
	Usage: "isolate all data under this tenant prefix",
}
var DevFlag = &cli.BoolFlag{
	Name:  "dev",
	Usage: "initialize with a plaintext master key and auto-unseal. Never use in production",
}
var DevRootTokenFlag = &cli.StringFlag{
	Name:  "dev-root-token",
	Usage: "root token used in dev mode (random when empty)",
}

var AddrFlag = &cli.StringFlag{
	Name:    "addr",
	Value:   clients.DefaultAddr,
	EnvVars: []string{"EGIDE_ADDR"},
	Usage:   "egide server address",
}
var TokenFlag = &cli.StringFlag{
	Name:    "token",
	EnvVars: []string{"EGIDE_TOKEN"},
	Usage:   "API token",
}
var TimeoutFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Second,
	Usage: "request timeout",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "egide",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	ConfigFileFlag,
	EnvFileFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var ClientFlags = []cli.Flag{
	AddrFlag,
	TokenFlag,
	TimeoutFlag,
}
