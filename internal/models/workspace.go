package models

import "time"

// Project owns maps, conversations and database connections.
type Project struct {
	ID        string `gorm:"primaryKey;size:12"`
	OwnerID   string `gorm:"size:64;not null;index"`
	Title     string `gorm:"size:256"`
	CreatedAt time.Time
}

// Map is a user map. Layers lists attached layer ids in draw order.
type Map struct {
	ID            string   `gorm:"primaryKey;size:12"`
	ProjectID     string   `gorm:"size:12;not null;index"`
	OwnerID       string   `gorm:"size:64;not null;index"`
	Title         string   `gorm:"size:256"`
	Description   string   `gorm:"type:text"`
	Layers        []string `gorm:"serializer:json;type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SoftDeletedAt *time.Time
}

// Layer types.
const (
	LayerVector     = "vector"
	LayerRaster     = "raster"
	LayerPostGIS    = "postgis"
	LayerPointCloud = "point_cloud"
)

// Layer is a dataset that may be attached to one or more maps.
type Layer struct {
	LayerID             string         `gorm:"primaryKey;size:12"`
	OwnerID             string         `gorm:"size:64;not null;index"`
	Name                string         `gorm:"size:256;not null"`
	Type                string         `gorm:"size:16;not null"`
	S3Key               string         `gorm:"size:512"`
	RemoteURL           string         `gorm:"size:2048"`
	PostGISConnectionID string         `gorm:"size:12"`
	PostGISQuery        string         `gorm:"type:text"`
	AttributeColumns    []string       `gorm:"serializer:json;type:text"`
	Metadata            map[string]any `gorm:"serializer:json;type:text"`
	Bounds              []float64      `gorm:"serializer:json;type:text"`
	GeometryType        string         `gorm:"size:32"`
	FeatureCount        *int
	SizeBytes           *int64
	SourceMapID         string    `gorm:"size:12"`
	CreatedOn           time.Time `gorm:"autoCreateTime;index"`
	LastEdited          time.Time `gorm:"autoUpdateTime"`
}

// LayerStyle is one immutable version of a layer's MapLibre style.
type LayerStyle struct {
	StyleID       string  `gorm:"primaryKey;size:12"`
	LayerID       string  `gorm:"size:12;not null;index"`
	StyleJSON     string  `gorm:"type:text;not null"`
	ParentStyleID *string `gorm:"size:12"`
	CreatedBy     string  `gorm:"size:64;not null"`
	CreatedOn     time.Time `gorm:"autoCreateTime"`
}

// MapLayerStyle selects the style version a map renders a layer with.
type MapLayerStyle struct {
	MapID   string `gorm:"primaryKey;size:12"`
	LayerID string `gorm:"primaryKey;size:12"`
	StyleID string `gorm:"size:12;not null"`
}

// PostgresConnection is a user-registered external PostGIS database.
type PostgresConnection struct {
	ID             string `gorm:"primaryKey;size:12"`
	ProjectID      string `gorm:"size:12;not null;index"`
	UserID         string `gorm:"size:64;not null;index"`
	ConnectionURI  string `gorm:"type:text;not null"`
	ConnectionName string `gorm:"size:256"`
	CreatedAt      time.Time
	SoftDeletedAt  *time.Time
}
