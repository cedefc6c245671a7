package collab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/workernode/engine"
	"github.com/pithecene-io/workernode/iox"
	"github.com/pithecene-io/workernode/types"
)

// S3Config configures the default ArtifactManager's S3 backend. Field names
// and semantics mirror the teacher's own S3 store config: bucket, prefix,
// region, and the custom-endpoint/path-style overrides needed for
// S3-compatible providers (R2, MinIO).
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

func (c S3Config) validate() error {
	if c.Bucket == "" {
		return errors.New("collab: S3 bucket is required")
	}
	return nil
}

// ArtifactManager is the default engine.ArtifactManager: it walks a run's
// working directory for files matching the declared glob patterns and
// uploads each to S3 (or an S3-compatible store) under a Hive-style key
// node_id/task_id/run_id/artifact_name, so artifacts from many concurrent
// runs on many nodes never collide.
//
// This does not reuse the teacher's lode-backed event dataset: lode's
// Dataset abstraction writes batches of JSONL records under a fixed Hive
// schema, which fits structured log/event data (see LogManagerFactory in logmanager.go) but
// not arbitrary files of unknown size and content type. The AWS SDK setup
// here is grounded on the same client_s3.go pattern nonetheless.
type ArtifactManager struct {
	client   *s3.Client
	cfg      S3Config
	nodeID   string
}

// NewArtifactManager loads AWS config via the default credential chain
// (env vars, shared config, IAM role) and builds an S3-backed
// ArtifactManager.
func NewArtifactManager(ctx context.Context, nodeID string, cfg S3Config) (*ArtifactManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("collab: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &ArtifactManager{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		nodeID: nodeID,
	}, nil
}

// CollectArtifacts walks workDir and returns every regular file whose
// path (relative to workDir) matches at least one glob pattern.
func (m *ArtifactManager) CollectArtifacts(ctx context.Context, workDir string, patterns []string, runID string) ([]engine.CollectedArtifact, error) {
	var collected []engine.CollectedArtifact
	err := filepath.WalkDir(workDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workDir, path)
		if err != nil {
			return nil
		}
		if !matchesAny(patterns, rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		collected = append(collected, engine.CollectedArtifact{
			Name:      rel,
			Path:      path,
			SizeBytes: info.Size(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return collected, err
	}
	return collected, nil
}

// StoreArtifact uploads one collected file to S3 under
// prefix/node_id/task_id/run_id/name, per SPEC_FULL.md's Hive partition
// key.
func (m *ArtifactManager) StoreArtifact(ctx context.Context, artifact engine.CollectedArtifact, taskID, runID string) (types.Artifact, error) {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return types.Artifact{}, fmt.Errorf("collab: open artifact: %w", err)
	}
	defer iox.DiscardClose(f)

	h := sha256.New()
	tee := io.TeeReader(f, h)

	key := artifactKey(m.cfg.Prefix, m.nodeID, taskID, runID, artifact.Name)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
		Body:   tee,
	})
	if err != nil {
		return types.Artifact{}, fmt.Errorf("collab: upload artifact: %w", err)
	}

	return types.Artifact{
		Name:      artifact.Name,
		URI:       fmt.Sprintf("s3://%s/%s", m.cfg.Bucket, key),
		SizeBytes: artifact.SizeBytes,
		Checksum:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func artifactKey(prefix, nodeID, taskID, runID, name string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, "node_id="+nodeID, "task_id="+taskID, "run_id="+runID, name)
	key := parts[0]
	for _, p := range parts[1:] {
		key += "/" + p
	}
	return key
}

func matchesAny(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, pat := range patterns {
		if ok, err := filepath.Match(pat, rel); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(pat, filepath.Base(rel)); err == nil && ok {
			return true
		}
	}
	return false
}

var _ engine.ArtifactManager = (*ArtifactManager)(nil)
