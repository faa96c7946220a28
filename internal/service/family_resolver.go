package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/repository"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// FamilyResolver maps a product to its grandparent family. The family tree is
// small, read-mostly reference data, so resolutions are cached in Redis with
// a TTL; a staleness window is acceptable.
type FamilyResolver struct {
	families repository.FamilyRepository
	cache    *redis.Client
	ttl      time.Duration
	logger   *zap.Logger
}

// NewFamilyResolver constructs the resolver. cache may be nil.
func NewFamilyResolver(families repository.FamilyRepository, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *FamilyResolver {
	return &FamilyResolver{families: families, cache: cache, ttl: ttl, logger: logger}
}

type cachedResolution struct {
	GrandparentFamilyID *string `json:"grandparent_family_id"`
}

// GrandparentFamilyID resolves product -> parent family -> grandparent
// family. Returns nil when the product has no family or the family has no
// parent.
func (r *FamilyResolver) GrandparentFamilyID(ctx context.Context, productID string) (*string, error) {
	if cached, ok := r.fromCache(ctx, productID); ok {
		return cached, nil
	}

	product, err := r.families.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("product", map[string]any{"product_id": productID})
		}
		return nil, apperrors.MapError(err)
	}
	if product.FamilyID == nil {
		r.toCache(ctx, productID, nil)
		return nil, nil
	}

	family, err := r.families.GetFamily(ctx, *product.FamilyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.toCache(ctx, productID, nil)
			return nil, nil
		}
		return nil, apperrors.MapError(err)
	}

	r.toCache(ctx, productID, family.ParentID)
	return family.ParentID, nil
}

func (r *FamilyResolver) fromCache(ctx context.Context, productID string) (*string, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, cacheKey(productID)).Result()
	if err != nil {
		return nil, false
	}
	var entry cachedResolution
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false
	}
	return entry.GrandparentFamilyID, true
}

func (r *FamilyResolver) toCache(ctx context.Context, productID string, familyID *string) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(cachedResolution{GrandparentFamilyID: familyID})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(productID), data, r.ttl).Err(); err != nil {
		r.logger.Debug("family resolution cache write failed", zap.Error(err))
	}
}

func cacheKey(productID string) string {
	return "family:grandparent:" + productID
}
