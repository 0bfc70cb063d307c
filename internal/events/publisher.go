// internal/events/publisher.go
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"loanflow/internal/common/logger"
	"loanflow/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel pipeline events fan out on.
const Channel = "pipeline.events"

// Publisher pushes pipeline events to Redis pub/sub for live consumers and
// indexes a copy in Elasticsearch for the audit trail. Both sides are
// best-effort; callers already treat Publish failures as non-fatal.
type Publisher struct {
	redis      *redis.Client
	es         *elasticsearch.Client
	auditIndex string
	logger     logger.Logger
}

func NewPublisher(redisClient *redis.Client, esClient *elasticsearch.Client, auditIndex string, log logger.Logger) *Publisher {
	if auditIndex == "" {
		auditIndex = "pipeline-events"
	}
	return &Publisher{
		redis:      redisClient,
		es:         esClient,
		auditIndex: auditIndex,
		logger:     log.WithFields(map[string]interface{}{"component": "event-publisher"}),
	}
}

func (p *Publisher) Publish(ctx context.Context, event models.PipelineEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline event: %w", err)
	}

	var pubErr error
	if p.redis != nil {
		if err := p.redis.Publish(ctx, Channel, body).Err(); err != nil {
			pubErr = fmt.Errorf("failed to publish pipeline event: %w", err)
		}
	}

	p.index(ctx, body)
	return pubErr
}

// index writes the audit copy. Indexing failures are logged, never returned;
// the audit trail must not gate pipeline progress.
func (p *Publisher) index(ctx context.Context, body []byte) {
	if p.es == nil {
		return
	}

	res, err := p.es.Index(
		p.auditIndex,
		bytes.NewReader(body),
		p.es.Index.WithContext(ctx),
		p.es.Index.WithDocumentID(uuid.NewString()),
	)
	if err != nil {
		p.logger.WithError(err).Warn("failed to index pipeline event", nil)
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		p.logger.Warn("audit index rejected pipeline event", map[string]interface{}{
			"status": res.Status(),
		})
	}
}
