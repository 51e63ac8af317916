package distribution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"keygate/internal/domain"
	"keygate/internal/licensing"
	"keygate/internal/metrics"
	"keygate/internal/security"
	"keygate/internal/storage"
	"keygate/internal/watermark"
)

// Pipeline prepares the artifact stream for a granted download: fetch from
// object storage, watermark when eligible, then wrap in the symmetric
// transform keyed by the request's session key.
type Pipeline struct {
	store     storage.ObjectStore
	bucket    string
	marker    *watermark.Client
	hasher    *licensing.LookupHasher
	collector *metrics.Collector
}

// NewPipeline wires the artifact pipeline. marker may be nil when no
// watermarking service is deployed.
func NewPipeline(store storage.ObjectStore, bucket string, marker *watermark.Client, hasher *licensing.LookupHasher, collector *metrics.Collector) *Pipeline {
	return &Pipeline{
		store:     store,
		bucket:    bucket,
		marker:    marker,
		hasher:    hasher,
		collector: collector,
	}
}

// Prepare returns the encrypted artifact stream and the plaintext size.
// Watermarking applies only to JAR artifacts, only when the team's plan
// allows it and at least one watermarking method is enabled; that path
// consumes the artifact into memory, everything else stays streamed.
func (p *Pipeline) Prepare(ctx context.Context, team *domain.Team, license *domain.License, release *domain.Release, sessionKey []byte) (*security.EncryptingReader, int64, error) {
	file := release.File

	raw, size, err := p.store.Get(ctx, p.bucket, file.StorageKey)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch artifact: %w", err)
	}

	if p.shouldWatermark(team, file) {
		marked, err := p.applyWatermark(ctx, team, license, file, raw)
		if err != nil {
			return nil, 0, err
		}
		raw = marked
		size = int64(marked.Len())
	}

	body, err := security.NewEncryptingReader(ctx, sessionKey, raw)
	if err != nil {
		_ = raw.Close()
		return nil, 0, err
	}
	return body, size, nil
}

func (p *Pipeline) shouldWatermark(team *domain.Team, file *domain.ReleaseFile) bool {
	if p.marker == nil || file.MainClassName == nil {
		return false
	}
	if team.Limits == nil || !team.Limits.AllowWatermarking {
		return false
	}
	return team.Settings != nil && team.Settings.WatermarkingMethods > 0
}

// applyWatermark consumes raw and returns the watermarked replacement. Any
// failure, including a timeout, surfaces as an error: unwatermarked
// content must never be served on the watermarking path.
func (p *Pipeline) applyWatermark(ctx context.Context, team *domain.Team, license *domain.License, file *domain.ReleaseFile, raw io.ReadCloser) (*closableBuffer, error) {
	defer raw.Close()

	artifact, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("read artifact for watermarking: %w", err)
	}

	started := time.Now()
	marked, err := p.marker.Apply(ctx, watermark.Request{
		Artifact:      artifact,
		Filename:      path.Base(file.StorageKey),
		Watermark:     fmt.Sprintf("%s:%s", team.ID, license.KeyLookup),
		EncryptionKey: p.hasher.WatermarkKey(team.ID),
		Methods:       watermarkMethods(team),
		StaticDensity: watermarkDensity(team),
	})
	if p.collector != nil {
		p.collector.ObserveWatermarkDuration(time.Since(started).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return &closableBuffer{Reader: bytes.NewReader(marked), size: len(marked)}, nil
}

func watermarkMethods(team *domain.Team) int {
	if team.Settings == nil {
		return 0
	}
	return team.Settings.WatermarkingMethods
}

func watermarkDensity(team *domain.Team) int {
	if team.Settings == nil {
		return 0
	}
	return team.Settings.WatermarkStaticDensity
}

// closableBuffer adapts an in-memory artifact to the stream interface.
type closableBuffer struct {
	*bytes.Reader
	size int
}

func (b *closableBuffer) Len() int    { return b.size }
func (b *closableBuffer) Close() error { return nil }
