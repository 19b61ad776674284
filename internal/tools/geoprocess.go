package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jjestrada2/farmane/internal/geoprocessing"
	"github.com/jjestrada2/farmane/internal/models"
	"github.com/jjestrada2/farmane/internal/storage"
	"github.com/jjestrada2/farmane/internal/workspace"
)

const (
	outputParam     = "OUTPUT"
	kueInstructions = "New layers have been created but are not on the map yet. " +
		"Call add_layer_to_map with a descriptive name to show them, then style them with set_layer_style if needed."
)

// geoprocess returns the handler for a catalog algorithm.
func (d *Dispatcher) geoprocess(alg geoprocessing.Algorithm) runFunc {
	return func(ctx context.Context, tc Context, raw json.RawMessage) Result {
		var args map[string]any
		dec := json.NewDecoder(bytes.NewReader(normalizeRaw(raw)))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return Fail(fmt.Sprintf("Invalid arguments for %s: %v", alg.Name, err), nil)
		}
		if err := alg.Validate(args); err != nil {
			return Fail(fmt.Sprintf("Invalid arguments for %s: %v", alg.Name, err), nil)
		}

		inputs := make(map[string]string, len(args)+1)
		for k, v := range args {
			if k == outputParam {
				continue
			}
			inputs[k] = cellText(v, "")
		}
		inputURLs, failed := d.resolveInputs(ctx, tc, inputs)
		if failed != "" {
			return Fail(fmt.Sprintf("Layer %s could not be accessed for geoprocessing", failed), nil)
		}

		layerID := models.NewID("L")
		key := storage.UploadKey(tc.UserID, tc.ProjectID, layerID, alg.Extension())
		putURL, err := d.storage.SignedURL(ctx, key, storage.MethodPut, d.putURLTTL)
		if err != nil {
			return Fail(fmt.Sprintf("Error running %s: %v", alg.Name, err), nil)
		}
		inputs[outputParam] = layerID + alg.Extension()

		done := d.notifier.Action(ctx, tc.ConversationID, fmt.Sprintf("QGIS running %s...", alg.ID()))
		res, err := d.geoprocessor.Run(ctx, geoprocessing.Request{
			AlgorithmID:   alg.ID(),
			Inputs:        inputs,
			InputURLs:     inputURLs,
			OutputPutURLs: map[string]string{outputParam: putURL},
		})
		done()

		var serr *geoprocessing.StatusError
		switch {
		case errors.As(err, &serr):
			return Fail(serr.Error(), map[string]any{"algorithm_id": alg.ID()})
		case errors.Is(err, geoprocessing.ErrTimeout):
			return Fail(fmt.Sprintf("QGIS processing of %s did not finish in time", alg.ID()), map[string]any{"algorithm_id": alg.ID()})
		case err != nil:
			return Fail(fmt.Sprintf("Error running %s: %v", alg.Name, err), map[string]any{"algorithm_id": alg.ID()})
		}
		if !res.Uploaded(outputParam) {
			return Fail(fmt.Sprintf("QGIS processing completed but output file %s was not uploaded successfully", outputParam),
				map[string]any{"algorithm_id": alg.ID(), "qgis_result": res.Raw})
		}

		size, err := d.storage.Size(ctx, key)
		if err != nil {
			return Fail(fmt.Sprintf("QGIS processing completed but output file %s could not be verified: %v", outputParam, err),
				map[string]any{"algorithm_id": alg.ID()})
		}
		name := fmt.Sprintf("%s output", alg.Name)
		layer, err := d.workspace.RegisterUpload(ctx, workspace.Upload{
			OwnerID:     tc.UserID,
			SourceMapID: tc.MapID,
			LayerID:     layerID,
			Name:        name,
			Type:        alg.OutputKind(),
			S3Key:       key,
			SizeBytes:   size,
			Metadata:    map[string]any{"algorithm_id": alg.ID()},
		})
		if err != nil {
			return Fail(fmt.Sprintf("Error running %s: %v", alg.Name, err), map[string]any{"algorithm_id": alg.ID()})
		}

		return OK(map[string]any{
			"message":      fmt.Sprintf("%s completed successfully", alg.Name),
			"algorithm_id": alg.ID(),
			"qgis_result":  res.Raw,
			"created_layers": []map[string]any{{
				"layer_id":   layer.LayerID,
				"name":       layer.Name,
				"type":       layer.Type,
				"size_bytes": size,
			}},
			"kue_instructions": kueInstructions,
		})
	}
}

// resolveInputs turns every layer-id-shaped input into a URL the service
// can read. It returns the first layer id that could not be resolved.
func (d *Dispatcher) resolveInputs(ctx context.Context, tc Context, inputs map[string]string) (map[string]string, string) {
	var (
		mu     sync.Mutex
		urls   = make(map[string]string)
		failed string
	)
	g, gctx := errgroup.WithContext(ctx)
	for param, v := range inputs {
		if !models.LooksLikeLayerID(v) {
			continue
		}
		g.Go(func() error {
			url, err := d.layerSource(gctx, v, tc.UserID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("geoprocessing input not resolvable",
					zap.String("param", param), zap.String("layer_id", v), zap.Error(err))
				if failed == "" {
					failed = v
				}
				return err
			}
			urls[param] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failed
	}
	return urls, ""
}

func (d *Dispatcher) layerSource(ctx context.Context, layerID, userID string) (string, error) {
	layer, err := d.workspace.Layer(ctx, layerID, userID)
	if err != nil {
		return "", err
	}
	return d.locator.Source(ctx, layer)
}
