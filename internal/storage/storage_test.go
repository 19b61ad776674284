package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jjestrada2/farmane/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	uploads map[string][]byte
	signed  []string
	ttls    []time.Duration
}

func (f *fakeStore) SignedURL(_ context.Context, key, method string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = append(f.signed, key)
	f.ttls = append(f.ttls, ttl)
	return "https://signed.example/" + key + "?m=" + method, nil
}

func (f *fakeStore) Size(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.uploads[key]
	if !ok {
		return 0, errors.New("not found")
	}
	return int64(len(b)), nil
}

func (f *fakeStore) Upload(_ context.Context, key string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[key] = b
	return nil
}

type fakeExporter struct {
	uri, query string
	err        error
}

func (f *fakeExporter) ExportGPKG(_ context.Context, uri, query, dst string) error {
	f.uri, f.query = uri, query
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("gpkg-bytes"), 0o644)
}

type fakeConnections map[string]string

func (f fakeConnections) ConnectionURI(_ context.Context, id, _ string) (string, error) {
	uri, ok := f[id]
	if !ok {
		return "", errors.New("connection not found")
	}
	return uri, nil
}

func TestUploadKey(t *testing.T) {
	got := UploadKey("u1", "p1", "L1", ".fgb")
	if got != "uploads/u1/p1/L1.fgb" {
		t.Errorf("UploadKey = %q", got)
	}
}

func TestRemoteSource(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"https://x/wfs?service=wfs&request=GetFeature&typename=a", "WFS:https://x/wfs?service=wfs&request=GetFeature&typename=a"},
		{"https://x/wfs?service=wfs&request=GetCapabilities", "/vsicurl/https://x/wfs?service=wfs&request=GetCapabilities"},
		{"CSV:/vsicurl/https://x/a.csv", "CSV:/vsicurl/https://x/a.csv"},
		{"ESRIJSON:https://x/query?f=json", "ESRIJSON:https://x/query?f=json"},
		{"https://x/a.fgb", "/vsicurl/https://x/a.fgb"},
	}
	for _, tt := range tests {
		if got := remoteSource(tt.url); got != tt.want {
			t.Errorf("remoteSource(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestSource_StoredFileIsSigned(t *testing.T) {
	store := &fakeStore{}
	loc := &Locator{Store: store, GetTTL: 20 * time.Minute}

	got, err := loc.Source(context.Background(), &models.Layer{LayerID: "L1", Type: models.LayerVector, S3Key: "uploads/a.fgb"})
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if got != "https://signed.example/uploads/a.fgb?m=GET" {
		t.Errorf("Source = %q", got)
	}
	if store.ttls[0] != 20*time.Minute {
		t.Errorf("ttl = %v, want 20m", store.ttls[0])
	}
}

func TestSource_RemoteWinsOverKey(t *testing.T) {
	loc := &Locator{Store: &fakeStore{}}
	got, err := loc.Source(context.Background(), &models.Layer{LayerID: "L1", RemoteURL: "https://x/a.tif", S3Key: "k"})
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if got != "/vsicurl/https://x/a.tif" {
		t.Errorf("Source = %q", got)
	}
}

func TestSource_NoSource(t *testing.T) {
	loc := &Locator{Store: &fakeStore{}}
	_, err := loc.Source(context.Background(), &models.Layer{LayerID: "L1", Type: models.LayerVector})
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
}

func TestSource_PostGISExportsAndSigns(t *testing.T) {
	store := &fakeStore{}
	exp := &fakeExporter{}
	loc := &Locator{
		Store:       store,
		Exporter:    exp,
		Connections: fakeConnections{"C1": "postgresql://u@h/db"},
		ExportTTL:   15 * time.Minute,
		TempDir:     t.TempDir(),
		now:         func() time.Time { return time.Unix(1700000000, 0) },
	}
	layer := &models.Layer{
		LayerID:             "L1",
		OwnerID:             "u1",
		Type:                models.LayerPostGIS,
		PostGISConnectionID: "C1",
		PostGISQuery:        "SELECT * FROM parcels",
	}

	got, err := loc.Source(context.Background(), layer)
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	key := "temp/postgis/L1_1700000000.gpkg"
	if string(store.uploads[key]) != "gpkg-bytes" {
		t.Errorf("uploads = %v, want %s", store.uploads, key)
	}
	if !strings.Contains(got, key) {
		t.Errorf("Source = %q, want signed url for %s", got, key)
	}
	if store.ttls[0] != 15*time.Minute {
		t.Errorf("ttl = %v, want 15m", store.ttls[0])
	}
	if exp.uri != "postgresql://u@h/db" || exp.query != "SELECT * FROM parcels" {
		t.Errorf("exporter got uri=%q query=%q", exp.uri, exp.query)
	}
}

func TestSource_PostGISExportFailure(t *testing.T) {
	store := &fakeStore{}
	loc := &Locator{
		Store:       store,
		Exporter:    &fakeExporter{err: errors.New("ogr2ogr exploded")},
		Connections: fakeConnections{"C1": "postgresql://u@h/db"},
		TempDir:     t.TempDir(),
	}
	layer := &models.Layer{LayerID: "L1", Type: models.LayerPostGIS, PostGISConnectionID: "C1", PostGISQuery: "SELECT 1"}

	_, err := loc.Source(context.Background(), layer)
	if err == nil || !strings.Contains(err.Error(), "ogr2ogr exploded") {
		t.Fatalf("err = %v", err)
	}
	if len(store.uploads) != 0 {
		t.Errorf("nothing should be uploaded, got %v", store.uploads)
	}
}

func TestSource_PostGISMissingQuery(t *testing.T) {
	loc := &Locator{Store: &fakeStore{}, Exporter: &fakeExporter{}, Connections: fakeConnections{}}
	_, err := loc.Source(context.Background(), &models.Layer{LayerID: "L1", Type: models.LayerPostGIS, PostGISConnectionID: "C1"})
	if err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestOGR2OGR_CommandArgs(t *testing.T) {
	cmd := OGR2OGR{}.command(context.Background(), "postgresql://h/db", "SELECT 1", "/tmp/out.gpkg")
	want := []string{"ogr2ogr", "-overwrite", "-if", "PostgreSQL", "-f", "GPKG", "/tmp/out.gpkg", "postgresql://h/db", "-sql", "SELECT 1"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
	if cmd.Cancel == nil {
		t.Error("Cancel should be set")
	}
	if cmd.WaitDelay != 10*time.Second {
		t.Errorf("WaitDelay = %v", cmd.WaitDelay)
	}
}

func TestOGR2OGR_CustomBinary(t *testing.T) {
	cmd := OGR2OGR{Binary: "/opt/gdal/bin/ogr2ogr"}.command(context.Background(), "u", "q", "d")
	if cmd.Args[0] != "/opt/gdal/bin/ogr2ogr" {
		t.Errorf("binary = %q", cmd.Args[0])
	}
}

func TestOGR2OGR_MissingBinary(t *testing.T) {
	err := OGR2OGR{Binary: "/nonexistent/ogr2ogr"}.ExportGPKG(context.Background(), "u", "q", t.TempDir()+"/x.gpkg")
	if err == nil || !strings.Contains(err.Error(), "ogr2ogr failed") {
		t.Fatalf("err = %v", err)
	}
}
