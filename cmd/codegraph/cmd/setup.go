package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/internal/logging"
	"github.com/dshills/codegraph-mcp/internal/project"
	"github.com/dshills/codegraph-mcp/internal/registry"
	"github.com/dshills/codegraph-mcp/internal/scheduler"
)

// runtimeEnv is the wired-up core shared by the subcommands.
type runtimeEnv struct {
	cfg     config.Config
	reg     *registry.Registry
	project *project.Project
	pool    *scheduler.Pool
}

// setup loads config and brings the project to Loaded.
func setup() (*runtimeEnv, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(root, config.DefaultFileName)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	reg, err := registry.Open(filepath.Join(cfg.DataDir, "fileids.db"))
	if err != nil {
		return nil, err
	}

	p, err := project.New(project.Options{
		Path:     root,
		Config:   cfg,
		Registry: reg,
		Logger:   log,
	})
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	indexer := &scheduler.CommandIndexer{Command: cfg.IndexerCommand}
	pool := scheduler.NewPool(indexer, p.OnJobFinished, cfg.Workers)
	p.SetScheduler(pool)

	if err := p.Load(); err != nil {
		pool.Close()
		_ = reg.Close()
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	return &runtimeEnv{cfg: cfg, reg: reg, project: p, pool: pool}, nil
}

// close tears the core down in reverse order.
func (e *runtimeEnv) close() {
	e.project.Unload()
	e.pool.Close()
	_ = e.reg.Close()
}
