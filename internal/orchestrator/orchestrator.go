// Package orchestrator composes the dump and restore state machines from
// the metadata probe, table dumper, table restorer, DDL rewriter, worker
// pool, and archive store.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"dbaccel/internal/apperrors"
	"dbaccel/internal/config"
	"dbaccel/internal/logging"
	"dbaccel/internal/restore"
)

// Orchestrator runs one dump or restore action end to end.
type Orchestrator struct {
	cfg     config.Config
	logger  *logging.Logger
	version string
	runID   string
}

// New returns an Orchestrator for one run. version lands in the archive
// manifest; runID correlates every log line of the run.
func New(cfg config.Config, logger *logging.Logger, version string) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		version: version,
		runID:   uuid.NewString(),
	}
}

// Run dispatches to the state machine selected by the configured action.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.WithFields(map[string]interface{}{
		"run_id":   o.runID,
		"action":   string(o.cfg.Action),
		"database": o.cfg.Database,
		"host":     o.cfg.Host,
		"jobs":     o.cfg.Jobs,
	}).Info("run starting")

	switch o.cfg.Action {
	case config.ActionDump:
		return o.Dump(ctx)
	case config.ActionRestore:
		return o.Restore(ctx)
	default:
		return apperrors.NewConfigError(fmt.Sprintf("unknown action %q", o.cfg.Action), nil)
	}
}

func (o *Orchestrator) vendorClient() restore.VendorClient {
	return restore.VendorClient{
		Host:     o.cfg.Host,
		Port:     o.cfg.Port,
		Username: o.cfg.Username,
	}
}
