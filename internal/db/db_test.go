package db

import (
	"strings"
	"testing"

	"github.com/jjestrada2/farmane/internal/config"
	"github.com/jjestrada2/farmane/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "mysql default user",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 3306, Database: "farmane"},
			want: "root@tcp(127.0.0.1:3306)/farmane?parseTime=true",
		},
		{
			name: "mysql with credentials",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3307, User: "kue", Password: "pw", Database: "maps"},
			want: "kue:pw@tcp(db:3307)/maps?parseTime=true",
		},
		{
			name: "postgres",
			cfg:  config.DatabaseConfig{Driver: "postgres", Host: "pg", Port: 5432, User: "kue", Password: "pw", Database: "farmane"},
			want: "host=pg port=5432 user=kue password=pw dbname=farmane sslmode=disable",
		},
		{
			name: "explicit dsn wins",
			cfg:  config.DatabaseConfig{Driver: "sqlite", DSN: "file:test.db"},
			want: "file:test.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "unsupported driver")
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 10 {
		t.Errorf("AllModels() returned %d models, want 10", got)
	}
}

func TestAutoMigrate_SQLite(t *testing.T) {
	gormDB, err := Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gormDB.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestSeedProject_Upserts(t *testing.T) {
	gormDB, err := Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	p := models.Project{ID: "Pproject0001", OwnerID: "alice", Title: "Farm"}
	m := models.Map{ID: "Mmap00000001", Title: "Fields"}
	if err := SeedProject(gormDB, p, m); err != nil {
		t.Fatalf("SeedProject: %v", err)
	}
	p.Title = "Farm 2"
	if err := SeedProject(gormDB, p, m); err != nil {
		t.Fatalf("SeedProject again: %v", err)
	}

	var got models.Project
	if err := gormDB.First(&got, "id = ?", p.ID).Error; err != nil {
		t.Fatalf("load project: %v", err)
	}
	if got.Title != "Farm 2" {
		t.Errorf("Title = %q, want %q", got.Title, "Farm 2")
	}
	var gotMap models.Map
	if err := gormDB.First(&gotMap, "id = ?", m.ID).Error; err != nil {
		t.Fatalf("load map: %v", err)
	}
	if gotMap.OwnerID != "alice" || gotMap.ProjectID != p.ID {
		t.Errorf("map = %+v, want owner alice in project %s", gotMap, p.ID)
	}
}
