package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/yndnr/hamesh-go/internal/daemon"
	"github.com/yndnr/hamesh-go/internal/infra/buildinfo"
	"github.com/yndnr/hamesh-go/internal/infra/confloader"
	"github.com/yndnr/hamesh-go/internal/infra/shutdown"
	"github.com/yndnr/hamesh-go/internal/server/config"
	"github.com/yndnr/hamesh-go/internal/telemetry/logger"
)

const envPrefix = "HAMESH_"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("hamesh-server", flag.ContinueOnError)
	var (
		configFile  = fs.String("config", "", "Path to configuration file")
		checkConfig = fs.Bool("check-config", false, "Verify the configuration, print it sanitized and exit")
		showVersion = fs.Bool("version", false, "Show version information")
		overrides   = map[string]any{}
	)
	fs.Func("set", "Override a configuration key, as key=value (repeatable)", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("expected key=value, got %q", s)
		}
		overrides[k] = v
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, "hamesh-server "+buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *checkConfig {
		return printConfig(stdout, cfg)
	}

	out, closeOut, err := logger.OpenOutput(cfg.Log.Output)
	if err != nil {
		return err
	}
	defer closeOut()
	log, err := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    out,
		AddSource: cfg.Log.AddSource,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting hamesh-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile,
		"node", cfg.Node.Name)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		_ = d.Shutdown(ctx)
		return err
	}

	sh := shutdown.NewHandler(shutdown.DefaultTimeout, log)
	sh.OnShutdown("daemon", d.Shutdown)

	if err := sh.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads defaults, then the file, the environment and the
// --set overrides.
func loadConfig(configFile string, overrides map[string]any) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{
		confloader.WithEnvPrefix(envPrefix),
		confloader.WithOverrides(overrides),
	}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func printConfig(w io.Writer, cfg *config.ServerConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(config.Sanitize(cfg)); err != nil {
		return fmt.Errorf("print config: %w", err)
	}
	return enc.Close()
}
