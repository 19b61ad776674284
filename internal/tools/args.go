package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names, which is what the model
// sees in the schema.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Arguments of the static tools. Field tags drive both decoding and
// validation.

type newLayerFromPostGISArgs struct {
	ConnectionID string `json:"postgis_connection_id" validate:"required"`
	Query        string `json:"query" validate:"required"`
	LayerName    string `json:"layer_name"`
}

type addLayerToMapArgs struct {
	LayerID string `json:"layer_id" validate:"required"`
	NewName string `json:"new_name" validate:"required"`
}

type setLayerStyleArgs struct {
	LayerID    string `json:"layer_id" validate:"required"`
	LayersJSON string `json:"maplibre_json_layers_str" validate:"required"`
}

type queryDuckDBArgs struct {
	LayerIDs  []string `json:"layer_ids" validate:"required,min=1,dive,required"`
	SQLQuery  string   `json:"sql_query" validate:"required"`
	HeadNRows *float64 `json:"head_n_rows" validate:"omitnil,gte=1"`
}

type queryPostGISArgs struct {
	ConnectionID string `json:"postgis_connection_id" validate:"required"`
	SQLQuery     string `json:"sql_query" validate:"required"`
}

type describeLayerArgs struct {
	LayerID string `json:"layer_id" validate:"required"`
}

// decodeArgs strictly decodes a JSON object into T and validates it.
func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(normalizeRaw(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	if err := validate.Struct(&out); err != nil {
		return out, describeValidation(err)
	}
	return out, nil
}

// describeValidation flattens validator errors into one readable line.
func describeValidation(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// normalizeRaw treats empty arguments as an empty object.
func normalizeRaw(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// isObject reports whether raw is a JSON object.
func isObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(normalizeRaw(raw), &m) == nil && m != nil
}
