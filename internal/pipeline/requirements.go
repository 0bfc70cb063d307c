// internal/pipeline/requirements.go
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"loanflow/internal/common/logger"
	"loanflow/internal/models"

	"github.com/redis/go-redis/v9"
)

// ProductCatalog looks up the minimum document set configured for an
// application's selected lender product. External collaborator.
type ProductCatalog interface {
	RequiredDocuments(ctx context.Context, applicationID string) ([]models.DocumentType, error)
}

// Resolver computes the Requirement Set for an application, caching catalog
// lookups in Redis. It never returns an empty set: a product configured with
// zero required documents is a configuration error, logged and defaulted.
type Resolver struct {
	catalog  ProductCatalog
	cache    redis.Cmdable
	defaults []models.DocumentType
	ttl      time.Duration
	logger   logger.Logger
}

func NewResolver(catalog ProductCatalog, cache redis.Cmdable, defaults []models.DocumentType, ttl time.Duration, log logger.Logger) *Resolver {
	if len(defaults) == 0 {
		defaults = []models.DocumentType{models.DocTypeBankStatements}
	}
	return &Resolver{
		catalog:  catalog,
		cache:    cache,
		defaults: defaults,
		ttl:      ttl,
		logger:   log.WithFields(map[string]interface{}{"component": "requirement-resolver"}),
	}
}

func requirementCacheKey(applicationID string) string {
	return "pipeline:reqdocs:" + applicationID
}

// RequiredTypes returns the document types mandated for the application.
// Lookup failures degrade to the global default set so the applicant-facing
// flow keeps moving.
func (r *Resolver) RequiredTypes(ctx context.Context, applicationID string) []models.DocumentType {
	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, requirementCacheKey(applicationID)).Result(); err == nil {
			var types []models.DocumentType
			if err := json.Unmarshal([]byte(cached), &types); err == nil && len(types) > 0 {
				return types
			}
		}
	}

	types, err := r.catalog.RequiredDocuments(ctx, applicationID)
	if err != nil {
		r.logger.WithError(err).Warn("product catalog lookup failed, using default requirement set", map[string]interface{}{
			"applicationId": applicationID,
		})
		return r.defaults
	}

	if len(types) == 0 {
		r.logger.Error("product configured with zero required documents", map[string]interface{}{
			"applicationId": applicationID,
		})
		return r.defaults
	}

	if r.cache != nil {
		if payload, err := json.Marshal(types); err == nil {
			_ = r.cache.Set(ctx, requirementCacheKey(applicationID), payload, r.ttl).Err()
		}
	}

	return types
}

// Invalidate drops the cached requirement set, e.g. after a product change.
func (r *Resolver) Invalidate(ctx context.Context, applicationID string) {
	if r.cache != nil {
		_ = r.cache.Del(ctx, requirementCacheKey(applicationID)).Err()
	}
}
