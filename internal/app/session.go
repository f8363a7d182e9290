package app

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/blackwell-systems/deploygate/internal/audit"
	"github.com/blackwell-systems/deploygate/internal/config"
	"github.com/blackwell-systems/deploygate/internal/indexer"
	"github.com/blackwell-systems/deploygate/internal/pipeline"
	"github.com/blackwell-systems/deploygate/internal/provider"
	"github.com/blackwell-systems/deploygate/internal/provider/adminservice"
	"github.com/blackwell-systems/deploygate/internal/provider/catalog"
	"github.com/blackwell-systems/deploygate/internal/store"
)

// settings is the configuration and logger shared by every command.
type settings struct {
	cfg     *config.Config
	aliases *config.AliasConfig
	logger  *slog.Logger
	closeFn func() error
}

// loadSettings reads the config, applies the global flags and sets up
// logging. Commands that never talk to the management service stop here.
func loadSettings(stderr io.Writer) (*settings, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if auditLogPath != "" {
		cfg.AuditLog = auditLogPath
	}
	// The index keys records by this path.
	cfg.AuditLog = filepath.Clean(cfg.AuditLog)

	logger, closeFn, err := newLogger(stderr, verbose, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	aliases := &config.AliasConfig{Collections: map[string]string{}, Deployables: map[string]string{}}
	if dir, err := config.Dir(); err == nil {
		if loaded, err := config.LoadAliases(dir); err != nil {
			logger.Warn("failed to load aliases", "error", err)
		} else {
			aliases = loaded
		}
	}

	return &settings{cfg: cfg, aliases: aliases, logger: logger, closeFn: closeFn}, nil
}

func (s *settings) Close() error {
	return s.closeFn()
}

// session owns everything one deploygate invocation needs to validate and
// deploy: config, management service, audit log and pipeline.
type session struct {
	*settings
	pipeline *pipeline.Pipeline
}

func openSession(stderr io.Writer) (*session, error) {
	base, err := loadSettings(stderr)
	if err != nil {
		return nil, err
	}

	svc, err := newService(base.cfg)
	if err != nil {
		base.Close()
		return nil, err
	}

	p := pipeline.New(svc, audit.New(base.cfg.AuditLog, base.logger), pipeline.Options{
		Actor:  base.cfg.Actor,
		Logger: base.logger,
	})

	base.logger.Debug("session opened",
		"provider", base.cfg.Provider,
		"site", base.cfg.Site,
		"audit_log", base.cfg.AuditLog,
		"actor", base.cfg.Actor)

	return &session{settings: base, pipeline: p}, nil
}

// newService connects the configured management-service provider.
func newService(cfg *config.Config) (provider.Service, error) {
	switch cfg.Provider {
	case config.ProviderAdminService:
		c, err := adminservice.New(adminservice.Options{
			BaseURL:            cfg.AdminService.URL,
			Username:           cfg.AdminService.Username,
			Password:           cfg.AdminService.Password,
			Timeout:            cfg.AdminService.Timeout,
			InsecureSkipVerify: cfg.AdminService.InsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderCatalog:
		c, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// openStore opens the history index, creating it on first use.
func (s *settings) openStore() (*store.Store, error) {
	st, err := store.Open(s.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open history index: %w", err)
	}
	return st, nil
}

// refreshIndex brings the history index up to date with the audit log.
// Failures are logged; the audit log stays the source of truth.
func (s *settings) refreshIndex() {
	st, err := s.openStore()
	if err != nil {
		s.logger.Warn("history index not updated", "error", err)
		return
	}
	defer st.Close()

	if err := s.catchUp(st); err != nil {
		s.logger.Warn("history index not updated", "error", err)
	}
}

// catchUp runs indexing passes until the log is fully consumed.
func (s *settings) catchUp(st *store.Store) error {
	for {
		res, err := indexer.Process(st, s.cfg.AuditLog, s.logger)
		if err != nil {
			return err
		}
		if len(res.Records) == 0 && res.Skipped == 0 {
			return nil
		}
	}
}
