// Package geoprocessing runs processing algorithms on the remote
// geoprocessing service and describes the algorithms it offers.
package geoprocessing

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed algorithms.yaml
var defaultCatalog []byte

// Output kinds an algorithm can produce.
const (
	OutputVector = "vector"
	OutputRaster = "raster"
)

// Algorithm is one processing algorithm exposed as a tool.
type Algorithm struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`

	schema *jsonschema.Schema
}

// Validate checks decoded tool arguments against Parameters. Numbers should
// be json.Number or float64.
func (a Algorithm) Validate(args any) error {
	sch := a.schema
	if sch == nil {
		var err error
		if sch, err = compileParameters(a.Name, closeObject(a.Parameters)); err != nil {
			return err
		}
	}
	if err := sch.Validate(args); err != nil {
		return fmt.Errorf("%s", strings.Join(strings.Fields(err.Error()), " "))
	}
	return nil
}

// closeObject disallows properties the schema does not name unless the
// schema says otherwise.
func closeObject(params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, set := params["additionalProperties"]; set {
		return params
	}
	closed := make(map[string]any, len(params)+1)
	for k, v := range params {
		closed[k] = v
	}
	closed["additionalProperties"] = false
	return closed
}

func compileParameters(name string, params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("geoprocessing: %s parameters: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("geoprocessing: %s parameters: %w", name, err)
	}
	url := "mem://geoprocessing/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("geoprocessing: %s parameters: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("geoprocessing: %s parameters: %w", name, err)
	}
	return sch, nil
}

// ID is the identifier the processing service knows the algorithm by.
func (a Algorithm) ID() string {
	return strings.ReplaceAll(a.Name, "_", ":")
}

// OutputKind guesses vector or raster output from the description: vector
// when "vector" is mentioned more often than "raster".
func (a Algorithm) OutputKind() string {
	desc := strings.ToLower(a.Description)
	if strings.Count(desc, "vector") > strings.Count(desc, "raster") {
		return OutputVector
	}
	return OutputRaster
}

// Extension is the output file extension for OutputKind.
func (a Algorithm) Extension() string {
	if a.OutputKind() == OutputVector {
		return ".fgb"
	}
	return ".tif"
}

// Catalog is an ordered, name-indexed set of algorithms.
type Catalog struct {
	algorithms []Algorithm
	byName     map[string]int
}

type catalogFile struct {
	Algorithms []Algorithm `yaml:"algorithms"`
}

// DefaultCatalog returns the built-in algorithm list.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geoprocessing: read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("geoprocessing: parse catalog: %w", err)
	}
	c := &Catalog{byName: make(map[string]int, len(f.Algorithms))}
	for _, a := range f.Algorithms {
		if a.Name == "" {
			return nil, fmt.Errorf("geoprocessing: catalog entry without a name")
		}
		if _, dup := c.byName[a.Name]; dup {
			return nil, fmt.Errorf("geoprocessing: duplicate algorithm %q", a.Name)
		}
		a.Parameters = closeObject(a.Parameters)
		sch, err := compileParameters(a.Name, a.Parameters)
		if err != nil {
			return nil, err
		}
		a.schema = sch
		c.byName[a.Name] = len(c.algorithms)
		c.algorithms = append(c.algorithms, a)
	}
	return c, nil
}

// Lookup finds an algorithm by tool name.
func (c *Catalog) Lookup(name string) (Algorithm, bool) {
	if c == nil {
		return Algorithm{}, false
	}
	i, ok := c.byName[name]
	if !ok {
		return Algorithm{}, false
	}
	return c.algorithms[i], true
}

// All returns the algorithms in file order.
func (c *Catalog) All() []Algorithm {
	if c == nil {
		return nil
	}
	return append([]Algorithm(nil), c.algorithms...)
}
