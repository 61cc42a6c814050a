package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"cppdev/internal/errs"
	"cppdev/internal/logx"
	"cppdev/internal/probe"
)

// Resolver locates tools using a cache-first, priority-ordered search. It
// never installs anything; callers hand NotFound results to the provisioner.
type Resolver struct {
	Prober  *probe.Prober
	Store   *Store
	DevRoot string
	Defs    map[Kind]Definition
	Logger  *zap.Logger
	Now     func() time.Time
}

// NewResolver returns a resolver over the platform default definitions.
func NewResolver(prober *probe.Prober, store *Store, devRoot string, logger *zap.Logger) *Resolver {
	return &Resolver{
		Prober:  prober,
		Store:   store,
		DevRoot: devRoot,
		Defs:    DefaultDefinitions(),
		Logger:  logx.OrNop(logger),
		Now:     time.Now,
	}
}

// Definition returns the definition registered for kind.
func (r *Resolver) Definition(kind Kind) (Definition, bool) {
	def, ok := r.Defs[kind]
	return def, ok
}

// Resolve returns the location of kind. A cached path is reused only when it
// still exists; otherwise every locator is tried in priority order and the
// first hit is persisted.
func (r *Resolver) Resolve(ctx context.Context, kind Kind) (Resolved, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	def, ok := r.Defs[kind]
	if !ok {
		return Resolved{}, fmt.Errorf("unknown tool kind %q", kind)
	}
	log := r.logger().With(zap.String("kind", string(kind)))

	if r.Store != nil {
		if cached, ok := r.Store.Get(kind); ok {
			if probe.IsFile(cached.Path) {
				log.Debug("cache hit", zap.String("path", cached.Path))
				return cached, nil
			}
			log.Info("cached path is stale, re-resolving", zap.String("path", cached.Path))
		}
	}

	for _, loc := range orderedLocators(def.Locators) {
		if err := ctx.Err(); err != nil {
			return Resolved{}, errs.Wrap(errs.KindCancelled, "resolve "+string(kind), err)
		}
		path, ok := loc.Locate(ctx, r.prober(), r.DevRoot)
		if !ok {
			continue
		}
		resolved := Resolved{Kind: kind, Path: path, Source: loc.Source(), DiscoveredAt: r.now()}
		log.Info("resolved", zap.String("path", path), zap.String("source", string(resolved.Source)))
		r.persist(resolved)
		return resolved, nil
	}

	log.Info("not found")
	return Resolved{}, errs.NotFound(def.Name)
}

// Record persists a path found outside the locator chain, such as a fresh
// provisioning result.
func (r *Resolver) Record(kind Kind, path string, source Source) (Resolved, error) {
	resolved := Resolved{Kind: kind, Path: path, Source: source, DiscoveredAt: r.now()}
	if r.Store == nil {
		return resolved, nil
	}
	if err := r.Store.Put(resolved); err != nil {
		return resolved, err
	}
	return resolved, nil
}

// Forget drops the cached entry for kind.
func (r *Resolver) Forget(kind Kind) error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Delete(kind)
}

func (r *Resolver) persist(resolved Resolved) {
	if r.Store == nil {
		return
	}
	if err := r.Store.Put(resolved); err != nil {
		r.logger().Warn("persist resolved path", zap.String("kind", string(resolved.Kind)), zap.Error(err))
	}
}

func (r *Resolver) prober() *probe.Prober {
	if r.Prober == nil {
		r.Prober = probe.New(nil)
	}
	return r.Prober
}

func (r *Resolver) logger() *zap.Logger {
	return logx.OrNop(r.Logger)
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func orderedLocators(locators []Locator) []Locator {
	ordered := append([]Locator(nil), locators...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Source().rank() < ordered[j].Source().rank()
	})
	return ordered
}
