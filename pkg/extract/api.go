package extract

import (
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/pkg/config"
	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/logger"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// APIExtractor pulls tabular data from an HTTP endpoint returning either a
// JSON array of objects or an object with a "data" array. Requests carry a
// per-call timeout so a hung endpoint cannot block the run indefinitely.
type APIExtractor struct {
	client *http.Client
}

// NewAPIExtractor creates an API extractor with the given request timeout.
func NewAPIExtractor(timeout time.Duration) *APIExtractor {
	return &APIExtractor{
		client: &http.Client{Timeout: timeout},
	}
}

// Extract performs a GET against the source URL and decodes the payload.
func (e *APIExtractor) Extract(ctx context.Context, spec config.SourceSpec) (*table.Dataset, error) {
	log := logger.With(
		zap.String("component", "api_extractor"),
		zap.String("source", spec.Name))

	if spec.URL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "api source needs a url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "request failed for source %s", spec.Name)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf(errors.ErrorTypeConnection, "unexpected status %d from %s", resp.StatusCode, spec.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	records, err := decodeObjects(body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData, "failed to decode payload for source %s", spec.Name)
	}

	ds := objectsToDataset(spec.Name, records)
	log.Info("extracted records", zap.Int("rows", ds.NumRows()))
	return ds, nil
}

// decodeObjects accepts a bare JSON array or a {"data": [...]} envelope.
func decodeObjects(body []byte) ([]map[string]interface{}, error) {
	var records []map[string]interface{}
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}

	var envelope struct {
		Data []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// objectsToDataset flattens decoded objects into a dataset. Columns are
// the union of keys in sorted order so the schema is deterministic.
func objectsToDataset(name string, records []map[string]interface{}) *table.Dataset {
	keySet := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]table.Field, len(keys))
	typed := make([]bool, len(keys))
	for i, k := range keys {
		fields[i] = table.Field{Name: k, Type: table.FieldTypeString, Nullable: true}
	}

	ds := table.New(name, fields)
	for _, rec := range records {
		row := make([]interface{}, len(keys))
		for i, k := range keys {
			row[i] = normalizeJSONValue(rec[k])
			if row[i] != nil && !typed[i] {
				ds.Fields[i].Type = table.InferType(row[i])
				typed[i] = true
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

// normalizeJSONValue keeps JSON scalars and stringifies anything nested.
func normalizeJSONValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, string, float64, bool:
		return x
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(raw)
	}
}
