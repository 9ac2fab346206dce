// Package stage provides the durable artifact stores bridging pipeline
// stages. The staging store holds extracted datasets, the output store
// holds transformed ones; both encode datasets as Parquet files named by
// a deterministic transform of the logical name plus a stage suffix.
// Loading through a store is the only stage-to-stage hand-off: the
// orchestrator never passes datasets between stages in memory.
package stage

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/logger"
	"github.com/tidemill-io/tidemill/pkg/table"
)

const (
	// SuffixStaging marks artifacts produced by the extract stage.
	SuffixStaging = "_staging"
	// SuffixTransformed marks artifacts produced by the transform stage.
	SuffixTransformed = "_transformed"

	artifactExt = ".parquet"
)

// Store persists datasets as Parquet artifacts under one directory with a
// fixed stage suffix. Overwrites are unconditional; there is no versioning.
type Store struct {
	dir    string
	suffix string
	log    *zap.Logger
}

// NewStagingStore returns a store over dir using the staging suffix.
func NewStagingStore(dir string) *Store {
	return newStore(dir, SuffixStaging)
}

// NewOutputStore returns a store over dir using the transformed suffix.
func NewOutputStore(dir string) *Store {
	return newStore(dir, SuffixTransformed)
}

func newStore(dir, suffix string) *Store {
	return &Store{
		dir:    dir,
		suffix: suffix,
		log:    logger.With(zap.String("component", "stage_store"), zap.String("suffix", suffix)),
	}
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// ArtifactPath returns the artifact path for a logical name.
func (s *Store) ArtifactPath(name string) string {
	return filepath.Join(s.dir, name+s.suffix+artifactExt)
}

// Save writes the dataset's artifact, replacing any prior one for the
// same name.
func (s *Store) Save(name string, ds *table.Dataset) error {
	if ds == nil {
		return errors.New(errors.ErrorTypeData, "cannot save nil dataset")
	}
	path := s.ArtifactPath(name)
	if err := writeParquet(path, ds); err != nil {
		return err
	}
	s.log.Info("saved artifact",
		zap.String("name", name),
		zap.String("path", path),
		zap.Int("rows", ds.NumRows()))
	return nil
}

// LoadAll enumerates every artifact matching the store's suffix and loads
// it, keyed by logical name (the artifact name minus the suffix). An empty
// directory yields an empty mapping, not an error.
func (s *Store) LoadAll(ctx context.Context) (map[string]*table.Dataset, error) {
	pattern := filepath.Join(s.dir, "*"+s.suffix+artifactExt)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to enumerate artifacts")
	}

	datasets := make(map[string]*table.Dataset, len(paths))
	for _, path := range paths {
		base := strings.TrimSuffix(filepath.Base(path), artifactExt)
		name := strings.TrimSuffix(base, s.suffix)

		ds, err := readParquet(ctx, path, name)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to load artifact %s", path)
		}
		datasets[name] = ds
		s.log.Info("loaded artifact",
			zap.String("name", name),
			zap.String("path", path),
			zap.Int("rows", ds.NumRows()))
	}
	return datasets, nil
}
