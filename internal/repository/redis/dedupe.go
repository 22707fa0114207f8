package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/repolish/repolish/internal/repository"
)

var _ repository.SubmissionDeduper = (*Deduper)(nil)

const (
	dedupeKeyPrefix = "repolish:submit:"
	dedupeTTL       = 10 * time.Minute
)

// Deduper is a Redis-backed best-effort submission deduplicator. A repeat
// submission of the same repository URL inside the TTL window resolves to
// the job created by the first submission.
type Deduper struct {
	client *goredis.Client
}

// NewDeduper creates a Redis-backed submission deduper.
func NewDeduper(client *goredis.Client) *Deduper {
	return &Deduper{client: client}
}

func dedupeKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return dedupeKeyPrefix + hex.EncodeToString(sum[:])
}

func (d *Deduper) Existing(ctx context.Context, sourceURL string) (uuid.UUID, bool, error) {
	val, err := d.client.Get(ctx, dedupeKey(sourceURL)).Result()
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis: dedupe lookup: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		// Stale or corrupt entry; treat as a miss.
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

func (d *Deduper) Remember(ctx context.Context, sourceURL string, id uuid.UUID) error {
	ok, err := d.client.SetNX(ctx, dedupeKey(sourceURL), id.String(), dedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("redis: dedupe remember: %w", err)
	}
	if !ok {
		// Lost the race to a concurrent submission; the earlier entry wins.
		return nil
	}
	return nil
}
