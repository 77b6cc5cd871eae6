package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"pharmatrace/internal/oversight/models"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// SuspiciousRedis keeps suspicious-activity counters in Redis hashes so that
// counts survive restarts and are shared across instances. One hash per
// (entity, activity type) pair under "suspicious:<entity>:<type>", plus a
// per-entity set of its known activity types.
type SuspiciousRedis struct {
	client *redis.Client
}

func NewSuspiciousRedis(client *redis.Client) *SuspiciousRedis {
	return &SuspiciousRedis{client: client}
}

func suspiciousHashKey(entity id.Principal, activityType string) string {
	return fmt.Sprintf("suspicious:%s:%s", entity, activityType)
}

func suspiciousEntityKey(entity id.Principal) string {
	return fmt.Sprintf("suspicious:types:%s", entity)
}

func (s *SuspiciousRedis) Record(ctx context.Context, entity id.Principal, activityType string, clock uint64, investigationID id.InvestigationID) (*models.SuspiciousActivity, error) {
	key := suspiciousHashKey(entity, activityType)

	pipe := s.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key, "last_occurrence", clock, "flagged", 1)
	if investigationID != 0 {
		pipe.HSet(ctx, key, "investigation_id", uint64(investigationID))
	}
	pipe.SAdd(ctx, suspiciousEntityKey(entity), activityType)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("record suspicious activity: %w", err)
	}

	return &models.SuspiciousActivity{
		Entity:          entity,
		ActivityType:    activityType,
		Count:           uint64(incr.Val()),
		LastOccurrence:  clock,
		Flagged:         true,
		InvestigationID: investigationID,
	}, nil
}

func (s *SuspiciousRedis) Get(ctx context.Context, entity id.Principal, activityType string) (*models.SuspiciousActivity, error) {
	fields, err := s.client.HGetAll(ctx, suspiciousHashKey(entity, activityType)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read suspicious activity: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return suspiciousFromHash(entity, activityType, fields), nil
}

func (s *SuspiciousRedis) ListByEntity(ctx context.Context, entity id.Principal) ([]*models.SuspiciousActivity, error) {
	types, err := s.client.SMembers(ctx, suspiciousEntityKey(entity)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list suspicious types: %w", err)
	}

	var out []*models.SuspiciousActivity
	for _, activityType := range types {
		fields, err := s.client.HGetAll(ctx, suspiciousHashKey(entity, activityType)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read suspicious activity: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, suspiciousFromHash(entity, activityType, fields))
	}
	return out, nil
}

func suspiciousFromHash(entity id.Principal, activityType string, fields map[string]string) *models.SuspiciousActivity {
	activity := &models.SuspiciousActivity{
		Entity:       entity,
		ActivityType: activityType,
	}
	activity.Count, _ = strconv.ParseUint(fields["count"], 10, 64)
	activity.LastOccurrence, _ = strconv.ParseUint(fields["last_occurrence"], 10, 64)
	activity.Flagged = fields["flagged"] == "1"
	if raw, ok := fields["investigation_id"]; ok {
		parsed, _ := strconv.ParseUint(raw, 10, 64)
		activity.InvestigationID = id.InvestigationID(parsed)
	}
	return activity
}
