package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"orderledger/internal/logger"
	"orderledger/internal/model"
)

type cachedHistoryService struct {
	next        HistoryReader
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// CachedHistory is a HistoryReader that can drop a customer's cached entries.
type CachedHistory interface {
	HistoryReader
	Invalidate(ctx context.Context, customerID string)
}

// NewCachedHistoryService caches month listings in redis. Redis failures fall
// through to next.
//
// Entries are keyed by a per-customer generation that Invalidate bumps, so a
// listing computed before an invalidation is written under the old generation
// and never served afterwards.
func NewCachedHistoryService(next HistoryReader, redisClient *redis.Client, l *zap.Logger) CachedHistory {
	return &cachedHistoryService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    time.Minute * 10,
		logger:      l,
	}
}

func generationKey(customerID string) string { return fmt.Sprintf("history:gen:%s", customerID) }

func monthsKey(customerID string, gen int64) string {
	return fmt.Sprintf("history:months:%s:%d", customerID, gen)
}

func periodsKey(customerID string, gen int64) string {
	return fmt.Sprintf("history:periods:%s:%d", customerID, gen)
}

func (s *cachedHistoryService) AvailableMonths(ctx context.Context, customerID string) ([]string, error) {
	gen, ok := s.generation(ctx, customerID)
	if !ok {
		return s.next.AvailableMonths(ctx, customerID)
	}

	var months []string
	if s.load(ctx, monthsKey(customerID, gen), &months) {
		return months, nil
	}

	months, err := s.next.AvailableMonths(ctx, customerID)
	if err != nil {
		return nil, err
	}
	s.save(ctx, monthsKey(customerID, gen), months)
	return months, nil
}

func (s *cachedHistoryService) AvailablePeriods(ctx context.Context, customerID string) ([]model.Period, error) {
	gen, ok := s.generation(ctx, customerID)
	if !ok {
		return s.next.AvailablePeriods(ctx, customerID)
	}

	var periods []model.Period
	if s.load(ctx, periodsKey(customerID, gen), &periods) {
		return periods, nil
	}

	periods, err := s.next.AvailablePeriods(ctx, customerID)
	if err != nil {
		return nil, err
	}
	s.save(ctx, periodsKey(customerID, gen), periods)
	return periods, nil
}

func (s *cachedHistoryService) OrdersForMonth(ctx context.Context, customerID, monthName string, year int) ([]model.HistoryItem, error) {
	return s.next.OrdersForMonth(ctx, customerID, monthName, year)
}

// Invalidate moves the customer to a new generation. Entries of the old one
// expire with their TTL.
func (s *cachedHistoryService) Invalidate(ctx context.Context, customerID string) {
	if err := s.redisClient.Incr(ctx, generationKey(customerID)).Err(); err != nil {
		logger.Warn(ctx, s.logger, "failed to invalidate history cache", zap.String("customer_id", customerID), zap.Error(err))
	}
}

// generation returns the customer's current cache generation. ok is false when
// redis cannot be read and the cache should be bypassed.
func (s *cachedHistoryService) generation(ctx context.Context, customerID string) (int64, bool) {
	gen, err := s.redisClient.Get(ctx, generationKey(customerID)).Int64()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		logger.Warn(ctx, s.logger, "history cache read failed", zap.String("customer_id", customerID), zap.Error(err))
		return 0, false
	}
}

func (s *cachedHistoryService) load(ctx context.Context, key string, dst any) bool {
	val, err := s.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn(ctx, s.logger, "history cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		logger.Warn(ctx, s.logger, "history cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *cachedHistoryService) save(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
		logger.Warn(ctx, s.logger, "history cache write failed", zap.String("key", key), zap.Error(err))
	}
}
