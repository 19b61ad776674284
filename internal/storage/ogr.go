package storage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Exporter writes the result of a PostGIS query to a GeoPackage file.
type Exporter interface {
	ExportGPKG(ctx context.Context, connectionURI, query, dst string) error
}

// OGR2OGR exports with the GDAL ogr2ogr binary.
type OGR2OGR struct {
	Binary string // defaults to "ogr2ogr"
}

// ExportGPKG implements Exporter.
func (o OGR2OGR) ExportGPKG(ctx context.Context, connectionURI, query, dst string) error {
	cmd := o.command(ctx, connectionURI, query, dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("storage: ogr2ogr failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (o OGR2OGR) command(ctx context.Context, connectionURI, query, dst string) *exec.Cmd {
	binary := o.Binary
	if binary == "" {
		binary = "ogr2ogr"
	}
	cmd := exec.CommandContext(ctx, binary,
		"-overwrite",
		"-if", "PostgreSQL",
		"-f", "GPKG",
		dst,
		connectionURI,
		"-sql", query,
	)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second
	return cmd
}
