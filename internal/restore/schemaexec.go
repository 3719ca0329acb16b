package restore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"dbaccel/internal/apperrors"
	"dbaccel/internal/logging"
)

// runVendorClient executes the vendor mysql client with stdin streamed
// from stdinPath (a FIFO or a plain file). stderr content or a non-zero
// exit is a failure.
func runVendorClient(ctx context.Context, client VendorClient, database, stdinPath string) error {
	in, err := os.Open(stdinPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", stdinPath, err)
	}
	defer in.Close()

	args := client.Args()
	if database != "" {
		args = append(args, database)
	}
	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Stdin = in
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mysql client failed: %w: %s", err, stderr.String())
	}
	if stderr.Len() > 0 {
		return fmt.Errorf("mysql client stderr: %s", stderr.String())
	}
	return nil
}

// SchemaApplier executes DDL files against the server through the vendor
// client, the way the three restore stages are applied.
type SchemaApplier struct {
	client   VendorClient
	database string
	logger   *logging.Logger
}

// NewSchemaApplier returns a SchemaApplier for the target database.
func NewSchemaApplier(client VendorClient, database string, logger *logging.Logger) *SchemaApplier {
	return &SchemaApplier{client: client, database: database, logger: logger}
}

// ApplyFile feeds one DDL file to the server. withDatabase selects the
// target schema on the client command line; stage-1 files carry their
// own CREATE DATABASE/USE statements and run without it.
func (a *SchemaApplier) ApplyFile(ctx context.Context, stage, path string, withDatabase bool) error {
	start := time.Now()
	database := ""
	if withDatabase {
		database = a.database
	}
	err := runVendorClient(ctx, a.client, database, path)
	if err != nil {
		err = apperrors.NewSchemaError(fmt.Sprintf("apply %s DDL from %s", stage, path), err)
	}
	a.logger.LogDDLStage(stage, 1, time.Since(start), err)
	return err
}
