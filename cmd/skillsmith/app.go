package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/assemble"
	"github.com/jingkaihe/skillsmith/pkg/backend"
	"github.com/jingkaihe/skillsmith/pkg/enhance"
	"github.com/jingkaihe/skillsmith/pkg/pipeline"
	"github.com/jingkaihe/skillsmith/pkg/presenter"
	"github.com/jingkaihe/skillsmith/pkg/router"
	"github.com/jingkaihe/skillsmith/pkg/skills"
	"github.com/jingkaihe/skillsmith/pkg/store"
)

// openStore opens the run registry database.
func openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, cfg.DBPath)
}

// newPipeline wires a pipeline to the registry and, when gen is non-nil, a
// generation backend. Progress is reported through the presenter.
func newPipeline(st *store.Store, gen backend.Generator) (*pipeline.Pipeline, error) {
	opts := []pipeline.Option{
		pipeline.WithEnhanceConfig(cfg.Enhance),
		pipeline.WithRunRegistry(st),
		pipeline.WithProgress(reportProgress),
	}
	if gen != nil {
		opts = append(opts, pipeline.WithGenerator(gen))
	}
	return pipeline.New(cfg.Ingest, opts...)
}

func reportProgress(p enhance.Progress) {
	presenter.Progress(presenter.ChunkProgress{
		Index:      p.Index,
		Title:      p.Title,
		Succeeded:  p.Succeeded,
		ErrorClass: string(p.ErrorClass),
		Done:       p.Done,
		Remaining:  p.Remaining,
		ETA:        p.ETA,
	})
}

// newRouterService builds a routing service over the skills directory.
// A nil cache disables decision caching.
func newRouterService(ctx context.Context, cache router.Cache) (*router.Service, error) {
	catalog, err := skills.NewCatalog(ctx, cfg.SkillsDir)
	if err != nil {
		return nil, err
	}

	gen, err := backend.New(ctx, cfg.RouterBackend())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create routing backend")
	}

	r := router.NewRouter(gen,
		router.WithMaxSelections(cfg.Router.MaxSelections),
		router.WithRetry(cfg.Router.Retry))

	var opts []router.ServiceOption
	if cache != nil {
		opts = append(opts, router.WithCache(cache))
	}
	return router.NewService(catalog, router.NewPrefilter(cfg.Router.PrefilterConfig), r, opts...), nil
}

// routeCache returns the persistent decision cache, or nil when caching is
// disabled by a zero TTL.
func routeCache(st *store.Store) router.Cache {
	if cfg.Router.CacheTTL <= 0 {
		return nil
	}
	return st.RouteCache(cfg.Router.CacheTTL)
}

func newAssembler() *assemble.Assembler {
	return assemble.New(cfg.SkillsDir)
}

// closeStore closes st, reporting rather than returning a failure.
func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		presenter.Warning("failed to close run registry: " + err.Error())
	}
}
