package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cppdev/internal/config"
	"cppdev/internal/logx"
	"cppdev/internal/metrics"
	"cppdev/internal/paths"
	"cppdev/internal/probe"
	"cppdev/internal/provision"
	"cppdev/internal/tools"
)

// DevRootEnv names the development root searched for conventional tool
// installs.
const DevRootEnv = "CPPDEV_ROOT"

// session bundles the per-invocation state shared by commands.
type session struct {
	Project paths.ProjectPaths
	Data    paths.DataPaths
	Config  config.Config
	DevRoot string
	Env     probe.Env

	Logger   *zap.Logger
	Resolver *tools.Resolver
	Metrics  metrics.Recorder

	prom      *metrics.PrometheusRecorder
	logCloser io.Closer
}

func openSession(cmd *cobra.Command) (*session, error) {
	pp, err := paths.Resolve(projectDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(pp.ConfigFile)
	if err != nil {
		return nil, err
	}
	pp = paths.ApplyConfig(pp, cfg)

	data, err := paths.Data()
	if err != nil {
		return nil, err
	}
	if err := data.Ensure(); err != nil {
		return nil, err
	}

	logger, closer, err := logx.New(data.LogsDir, verbose)
	if err != nil {
		return nil, err
	}

	dotenv, err := probe.LoadDotEnv(pp.DotEnvFile)
	if err != nil {
		logger.Warn("ignoring unreadable .env", zap.String("path", pp.DotEnvFile), zap.Error(err))
		dotenv = probe.MapEnv{}
	}
	env := probe.Layered{probe.OSEnv{}, dotenv}

	s := &session{
		Project:   pp,
		Data:      data,
		Config:    cfg,
		DevRoot:   resolveDevRoot(cfg, env, data),
		Env:       env,
		Logger:    logger.With(zap.String("command", cmd.CommandPath())),
		Metrics:   metrics.NoopRecorder{},
		logCloser: closer,
	}
	if metricsFile != "" {
		s.prom = metrics.NewPrometheusRecorder(prometheus.NewRegistry())
		s.Metrics = s.prom
	}
	s.Resolver = tools.NewResolver(probe.New(env), tools.NewStore(data.ToolsFile), s.DevRoot, s.Logger)

	s.Logger.Info("session opened",
		zap.String("project", pp.Root),
		zap.String("dev_root", s.DevRoot),
		zap.String("data_root", data.Root))
	return s, nil
}

// resolveDevRoot picks the development root: CPPDEV_ROOT, then the config
// value, then the per-user data directory.
func resolveDevRoot(cfg config.Config, env probe.Env, data paths.DataPaths) string {
	if v, ok := env.Lookup(DevRootEnv); ok && strings.TrimSpace(v) != "" {
		return filepath.Clean(strings.TrimSpace(v))
	}
	if v := strings.TrimSpace(cfg.DevRoot); v != "" {
		return filepath.Clean(v)
	}
	return data.Root
}

// Close flushes metrics and the log file.
func (s *session) Close() error {
	var firstErr error
	if s.prom != nil && metricsFile != "" {
		if err := s.prom.WriteTextfile(metricsFile); err != nil {
			firstErr = fmt.Errorf("write metrics: %w", err)
		}
	}
	_ = s.Logger.Sync()
	if s.logCloser != nil {
		if err := s.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *session) provisioner() *provision.Provisioner {
	p := provision.New(s.Data.Downloads, s.Data.LocksDir, s.Resolver, s.Logger)
	p.InstallTimeout = s.Config.InstallTimeout()
	p.PollInterval = s.Config.PollInterval()
	p.PollAttempts = s.Config.Provisioning.PollAttempts
	p.Metrics = s.Metrics
	return p
}

// provisionJob builds a job for kind from its configured recipe.
func (s *session) provisionJob(kind tools.Kind) (provision.Job, error) {
	recipe, ok := s.Config.Tool(string(kind))
	if !ok || strings.TrimSpace(recipe.DownloadURL) == "" {
		return provision.Job{}, fmt.Errorf("no provisioning recipe for %s on this platform; add one under tools.%s in %s", kind, kind, filepath.Base(s.Project.ConfigFile))
	}
	dest := recipe.Dest
	if dest == "" {
		dest = string(kind)
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(s.DevRoot, "tools", dest)
	}
	return provision.Job{
		Kind:          kind,
		URL:           recipe.DownloadURL,
		SHA256:        recipe.SHA256,
		DestDir:       dest,
		InstallArgs:   recipe.InstallArgs,
		Sentinel:      recipe.Sentinel,
		FallbackRoots: recipe.FallbackRoots,
	}, nil
}
