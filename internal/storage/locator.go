package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jjestrada2/farmane/internal/models"
)

// ErrNoSource is returned for layers with nothing to read from.
var ErrNoSource = errors.New("storage: layer has no data source")

// ConnectionResolver looks up PostGIS connection strings.
type ConnectionResolver interface {
	ConnectionURI(ctx context.Context, connectionID, userID string) (string, error)
}

// Locator turns layers into GDAL-readable source strings that a remote
// service can open without access to our database.
type Locator struct {
	Store       Store
	Exporter    Exporter
	Connections ConnectionResolver
	GetTTL      time.Duration
	ExportTTL   time.Duration
	TempDir     string

	now func() time.Time
}

// Source resolves layer to a data-source locator. PostGIS layers are
// exported to a GeoPackage and shared through a short-lived signed URL.
func (l *Locator) Source(ctx context.Context, layer *models.Layer) (string, error) {
	switch {
	case layer.Type == models.LayerPostGIS:
		return l.exportPostGIS(ctx, layer)
	case layer.RemoteURL != "":
		return remoteSource(layer.RemoteURL), nil
	case layer.S3Key != "":
		return l.Store.SignedURL(ctx, layer.S3Key, MethodGet, l.getTTL())
	default:
		return "", fmt.Errorf("layer %s: %w", layer.LayerID, ErrNoSource)
	}
}

// remoteSource prefixes a remote URL with the GDAL driver or virtual file
// system that can read it.
func remoteSource(url string) string {
	upper := strings.ToUpper(url)
	switch {
	case strings.Contains(upper, "SERVICE=WFS") && strings.Contains(upper, "REQUEST=GETFEATURE"):
		return "WFS:" + url
	case strings.HasPrefix(url, "CSV:/vsicurl/"), strings.HasPrefix(url, "ESRIJSON:"):
		return url
	default:
		return "/vsicurl/" + url
	}
}

func (l *Locator) exportPostGIS(ctx context.Context, layer *models.Layer) (string, error) {
	if layer.PostGISConnectionID == "" || layer.PostGISQuery == "" {
		return "", fmt.Errorf("storage: postgis layer %s missing connection or query", layer.LayerID)
	}
	if l.Exporter == nil || l.Connections == nil {
		return "", fmt.Errorf("storage: postgis export is not configured")
	}
	uri, err := l.Connections.ConnectionURI(ctx, layer.PostGISConnectionID, layer.OwnerID)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp(l.TempDir, "farmane-export-*")
	if err != nil {
		return "", fmt.Errorf("storage: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, layer.LayerID+".gpkg")
	if err := l.Exporter.ExportGPKG(ctx, uri, layer.PostGISQuery, path); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("storage: open export: %w", err)
	}
	defer f.Close()

	now := time.Now
	if l.now != nil {
		now = l.now
	}
	key := fmt.Sprintf("temp/postgis/%s_%d.gpkg", layer.LayerID, now().Unix())
	if err := l.Store.Upload(ctx, key, f); err != nil {
		return "", err
	}
	ttl := l.ExportTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return l.Store.SignedURL(ctx, key, MethodGet, ttl)
}

func (l *Locator) getTTL() time.Duration {
	if l.GetTTL <= 0 {
		return time.Hour
	}
	return l.GetTTL
}
