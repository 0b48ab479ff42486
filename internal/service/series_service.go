package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cognidex/portal-backend/internal/config"
	"github.com/cognidex/portal-backend/internal/evalapi"
	"github.com/cognidex/portal-backend/internal/model"
)

// seriesCacheTTL bounds catalog staleness. The catalog changes rarely.
const seriesCacheTTL = 5 * time.Minute

// SeriesService proxies the demo series catalog with a Redis cache.
type SeriesService struct {
	eval *evalapi.Client
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewSeriesService creates a new SeriesService.
func NewSeriesService(eval *evalapi.Client, rdb *redis.Client, log zerolog.Logger) *SeriesService {
	return &SeriesService{
		eval: eval,
		rdb:  rdb,
		log:  log.With().Str("component", "series_service").Logger(),
	}
}

// List returns the series catalog, cached.
func (s *SeriesService) List(ctx context.Context) ([]model.Series, error) {
	key := config.CacheKey.SeriesCatalogKey()

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cached []model.Series
		if uerr := json.Unmarshal(raw, &cached); uerr == nil {
			return cached, nil
		}
		// Corrupt cache entry: fall through to a refetch.
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Series cache read failed")
	}

	return s.refresh(ctx)
}

// Prewarm loads the catalog into Redis before traffic arrives.
func (s *SeriesService) Prewarm(ctx context.Context) error {
	_, err := s.refresh(ctx)
	return err
}

func (s *SeriesService) refresh(ctx context.Context) ([]model.Series, error) {
	entries, err := s.eval.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	series := make([]model.Series, 0, len(entries))
	for _, e := range entries {
		series = append(series, model.Series{
			ID:            e.ID,
			Title:         e.Title,
			Description:   e.Description,
			QuestionCount: e.QuestionCount,
		})
	}

	raw, err := json.Marshal(series)
	if err == nil {
		if serr := s.rdb.Set(ctx, config.CacheKey.SeriesCatalogKey(), raw, seriesCacheTTL).Err(); serr != nil {
			s.log.Warn().Err(serr).Msg("Series cache write failed")
		}
	}

	return series, nil
}
