package yield

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentaudit/internal/logger"
	"agentaudit/internal/metrics"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/pkg/circuit"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type ServiceOptions struct {
	Chain            string
	CacheTTL         time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	Metrics          *metrics.Metrics
}

// Service 负责拉取（带缓存与熔断）并排序收益数据。
type Service struct {
	primary   PoolSource
	secondary PoolSource
	allow     AllowListSource
	chain     string
	cacheTTL  time.Duration
	cache     *cache.Cache
	flight    singleflight.Group
	breakers  map[string]*circuit.CircuitBreaker
	metrics   *metrics.Metrics
}

// NewService secondary 可以为 nil；cacheTTL<=0 时不缓存。
func NewService(primary, secondary PoolSource, allow AllowListSource, opts ServiceOptions) (*Service, error) {
	if primary == nil {
		return nil, fmt.Errorf("yield: primary source is required")
	}
	if allow == nil {
		allow = StaticAllowList(DefaultAllowList())
	}
	if opts.Chain == "" {
		opts.Chain = DefaultChain
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = time.Minute
	}
	s := &Service{
		primary:   primary,
		secondary: secondary,
		allow:     allow,
		chain:     opts.Chain,
		cacheTTL:  opts.CacheTTL,
		breakers:  make(map[string]*circuit.CircuitBreaker),
		metrics:   opts.Metrics,
	}
	if opts.CacheTTL > 0 {
		s.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	for _, src := range []PoolSource{primary, secondary} {
		if src == nil {
			continue
		}
		name := src.Name()
		cb := circuit.NewCircuitBreaker("yield-"+name, opts.BreakerThreshold, opts.BreakerCooldown)
		cb.SetStateChangeHandler(func(_ string, _, to circuit.State) {
			s.metrics.RecordBreakerState(name, int(to))
		})
		s.metrics.RecordBreakerState(name, int(circuit.StateClosed))
		s.breakers[name] = cb
	}
	return s, nil
}

// SupportedProtocols 返回基础白名单（与请求模式无关）。
func (s *Service) SupportedProtocols() []string {
	return s.allow.AllowList().Supported
}

// Rank 拉取主数据源并排序；扩展模式下并发拉取次要数据源，失败时只记录日志并退回主数据源结果。
func (s *Service) Rank(ctx context.Context, q Query) (Result, error) {
	if q.MinAPY < 0 || q.MinTVL < 0 {
		return Result{}, apperr.Validationf("minApy and minTvl must be non-negative")
	}
	allow := s.allow.AllowList()

	var primaryPools, secondaryPools []RawPool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pools, err := s.pools(gctx, s.primary, false)
		if err != nil {
			return err
		}
		primaryPools = pools
		return nil
	})
	if q.Extended && s.secondary != nil {
		g.Go(func() error {
			pools, err := s.pools(gctx, s.secondary, false)
			if err != nil {
				logger.Warnf("yield: secondary source %s unavailable, using primary only: %v", s.secondary.Name(), err)
				return nil
			}
			secondaryPools = pools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Errorf("yield: primary source %s failed: %v", s.primary.Name(), err)
		return Result{}, apperr.Upstream(err, "yield data source unavailable")
	}

	yields := Rank(primaryPools, allow, s.chain, q)
	if len(secondaryPools) > 0 {
		yields = Merge(yields, Rank(secondaryPools, allow, s.chain, q), Limit(q.Extended))
	}
	return Result{
		Count:              len(yields),
		SupportedProtocols: allow.Supported,
		Yields:             yields,
	}, nil
}

// Refresh 跳过缓存重新拉取所有数据源，供定时任务预热缓存。
func (s *Service) Refresh(ctx context.Context) error {
	var errs []error
	for _, src := range []PoolSource{s.primary, s.secondary} {
		if src == nil {
			continue
		}
		if _, err := s.pools(ctx, src, true); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) pools(ctx context.Context, src PoolSource, force bool) ([]RawPool, error) {
	key := src.Name()
	if !force && s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([]RawPool), nil
		}
	}
	v, err, _ := s.flight.Do(key, func() (any, error) {
		var pools []RawPool
		start := time.Now()
		err := s.breakers[key].Execute(func() error {
			var fetchErr error
			pools, fetchErr = src.FetchPools(ctx)
			return fetchErr
		})
		if !errors.Is(err, circuit.ErrOpen) {
			s.metrics.RecordFeedFetch(key, time.Since(start), err)
		}
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(key, pools, s.cacheTTL)
		}
		logger.Debugf("yield: fetched %d pools from %s in %s", len(pools), key, time.Since(start).Round(time.Millisecond))
		return pools, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]RawPool), nil
}
