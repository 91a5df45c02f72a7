// Package service orchestrates indexing, soft deletion, and the ranked view.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hiro/poi_service/internal/lookup"
	"github.com/hiro/poi_service/internal/store"
	"github.com/hiro/poi_service/pkg/models"
)

// ErrLookupFailed marks a failure of the external lookup service; the whole
// batch it belonged to was aborted with nothing written.
var ErrLookupFailed = errors.New("lookup failed")

// ErrStorage marks a storage failure; the whole batch it belonged to was
// rolled back.
var ErrStorage = errors.New("storage failure")

// indexedTermsKey is the redis set holding every search term known to be
// indexed. Terms are write-once, so a member can never go stale; a miss just
// falls through to the store.
const indexedTermsKey = "poi:indexed_terms"

type Store interface {
	HasIndexedTerm(ctx context.Context, term string) (bool, error)
	Begin(ctx context.Context) (store.Batch, error)
	QueryRanked(ctx context.Context, params models.RankedParams) ([]models.RankedRow, error)
	Centroid(ctx context.Context, topRank int, category, alias string) (*models.Centroid, error)
	GetLocation(ctx context.Context, id string) (*models.Location, error)
}

type LookupClient interface {
	Search(ctx context.Context, term string) ([]lookup.Business, error)
}

// Service is the indexing and retrieval engine. It holds no state of its own
// beyond in-flight request data; all persisted state lives in the store.
type Service struct {
	store       Store
	lookup      LookupClient
	rdb         *redis.Client
	logger      *zap.Logger
	concurrency int

	// mu serializes mutators (Index, Delete); ranked-view reads run without it.
	mu sync.Mutex
}

func New(st Store, lc LookupClient, rdb *redis.Client, logger *zap.Logger, concurrency int) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{store: st, lookup: lc, rdb: rdb, logger: logger, concurrency: concurrency}
}

// Index processes a batch of term groups: terms already indexed are skipped,
// the rest are resolved against the external lookup and persisted in one
// transaction. On any lookup or storage error nothing from the batch is kept;
// callers must resubmit the whole batch.
func (s *Service) Index(ctx context.Context, batch models.IndexBatch) (*models.IndexResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unseen := make([]models.TermGroup, 0, len(batch))
	inBatch := make(map[string]bool, len(batch))
	for _, g := range batch {
		if inBatch[g.Term] {
			s.logger.Warn("duplicate term in batch, keeping first occurrence", zap.String("term", g.Term))
			continue
		}
		inBatch[g.Term] = true
		indexed, err := s.termIndexed(ctx, g.Term)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if indexed {
			s.logger.Info("term already indexed, skipping", zap.String("term", g.Term))
			continue
		}
		unseen = append(unseen, g)
	}

	// Resolve every unseen term up front on a bounded pool, before any write
	// transaction opens. A slow lookup never holds the transaction, and a
	// failed lookup aborts the batch before anything is written.
	resolved := make([][]lookup.Business, len(unseen))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, g := range unseen {
		eg.Go(func() error {
			businesses, err := s.lookup.Search(egctx, g.Term)
			if err != nil {
				return fmt.Errorf("term %q: %w", g.Term, err)
			}
			s.logger.Info("lookup resolved",
				zap.String("term", g.Term), zap.Int("businesses", len(businesses)))
			resolved[i] = businesses
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	batchTx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	emptyTerms, err := s.writeBatch(ctx, batchTx, unseen, resolved)
	if err != nil {
		if rbErr := batchTx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := batchTx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.cacheIndexedTerms(ctx, unseen)
	return &models.IndexResult{EmptyTerms: emptyTerms}, nil
}

// writeBatch applies one batch's writes to an open transaction, in input
// order, and collects the terms that normalized to zero usable locations.
func (s *Service) writeBatch(ctx context.Context, batchTx store.Batch, groups []models.TermGroup, resolved [][]lookup.Business) ([]string, error) {
	emptyTerms := []string{}
	for i, g := range groups {
		if err := batchTx.InsertMessages(ctx, g.Term, g.Messages); err != nil {
			return nil, err
		}

		locations := normalize(resolved[i])
		if len(locations) == 0 {
			s.logger.Warn("term yielded no usable locations", zap.String("term", g.Term))
			emptyTerms = append(emptyTerms, g.Term)
			continue
		}

		for _, loc := range locations {
			if err := batchTx.UpsertLocation(ctx, loc); err != nil {
				return nil, err
			}
			if err := batchTx.UpsertCategories(ctx, loc.ID, loc.Categories); err != nil {
				return nil, err
			}
		}
		for _, m := range g.Messages {
			for _, loc := range locations {
				if err := batchTx.LinkMessageToLocation(ctx, m.ID, loc.ID); err != nil {
					return nil, err
				}
			}
		}
		s.logger.Info("term indexed",
			zap.String("term", g.Term),
			zap.Int("messages", len(g.Messages)),
			zap.Int("locations", len(locations)))
	}
	return emptyTerms, nil
}

// Delete marks the given locations as blacklisted. They disappear from the
// ranked view but their rows, categories, and links stay in storage.
func (s *Service) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batchTx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := batchTx.Blacklist(ctx, ids); err != nil {
		if rbErr := batchTx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := batchTx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.logger.Info("locations blacklisted", zap.Int("count", len(ids)))
	return nil
}

// Ranked recomputes the ranked view window from current committed state.
func (s *Service) Ranked(ctx context.Context, params models.RankedParams) ([]models.RankedRow, error) {
	return s.store.QueryRanked(ctx, params)
}

// Centroid returns the mean coordinate over view rows ranked at or above
// topRank, or nil when the filtered view is empty.
func (s *Service) Centroid(ctx context.Context, topRank int, category, alias string) (*models.Centroid, error) {
	return s.store.Centroid(ctx, topRank, category, alias)
}

// Location fetches a single location by id, blacklisted or not.
func (s *Service) Location(ctx context.Context, id string) (*models.Location, error) {
	return s.store.GetLocation(ctx, id)
}

// termIndexed consults the redis term set first and falls back to the store.
// Cache errors only disable the fast path; they never fail the request.
func (s *Service) termIndexed(ctx context.Context, term string) (bool, error) {
	if s.rdb != nil {
		hit, err := s.rdb.SIsMember(ctx, indexedTermsKey, term).Result()
		if err == nil && hit {
			return true, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Warn("term cache read failed", zap.Error(err))
		}
	}
	return s.store.HasIndexedTerm(ctx, term)
}

// cacheIndexedTerms records freshly committed terms in redis, best effort.
func (s *Service) cacheIndexedTerms(ctx context.Context, groups []models.TermGroup) {
	if s.rdb == nil || len(groups) == 0 {
		return
	}
	terms := make([]interface{}, len(groups))
	for i, g := range groups {
		terms[i] = g.Term
	}
	if err := s.rdb.SAdd(ctx, indexedTermsKey, terms...).Err(); err != nil {
		s.logger.Warn("term cache write failed", zap.Error(err))
	}
}
