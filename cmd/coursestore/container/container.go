package container

import (
	"fmt"

	"github.com/openlearn/coursestore/cmd/coursestore/service"
	"github.com/openlearn/coursestore/common/bootstrap"
	"github.com/openlearn/coursestore/common/cache"
	"github.com/openlearn/coursestore/common/ratelimit"
	"github.com/openlearn/coursestore/common/repository"
)

// Container holds all initialized repositories and store engines
// (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	BlockRepo      *repository.BlockRepository
	IndexRepo      *repository.CourseIndexRepository
	StructureRepo  *repository.StructureRepository
	DefinitionRepo *repository.DefinitionRepository

	// Engines
	Inheritance *service.InheritanceCache
	DraftStore  *service.DraftStore
	SplitStore  *service.SplitStore
	MixedStore  *service.MixedStore
	Migrator    *service.Migrator

	// Rate limiting (nil when Redis is disabled)
	RateLimiter *ratelimit.RateLimiter
}

// NewContainer initializes all repositories and engines once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Repositories
	blockRepo := repository.NewBlockRepository(components.DB)
	indexRepo := repository.NewCourseIndexRepository(components.DB)
	structureRepo := repository.NewStructureRepository(components.DB)
	definitionRepo := repository.NewDefinitionRepository(components.DB)

	// The inheritance cache falls back to in-process memory when the
	// shared cache is disabled
	blockCache := components.Cache
	if blockCache == nil {
		blockCache = cache.NewMemoryCache(log)
	}
	inheritance := service.NewInheritanceCache(blockRepo, blockCache, cfg.Cache.DefaultTTL, log)

	// Engines (bottom-up: dependencies first)
	draftStore := service.NewDraftStore(blockRepo, definitionRepo, inheritance, components.Queue, log)
	splitStore := service.NewSplitStore(structureRepo, indexRepo, definitionRepo, components.Queue, log)

	stores := make([]service.Store, 0, len(cfg.Stores.Order))
	for _, name := range cfg.Stores.Order {
		switch name {
		case draftStore.Name():
			stores = append(stores, draftStore)
		case splitStore.Name():
			stores = append(stores, splitStore)
		default:
			return nil, fmt.Errorf("unknown store in STORE_ORDER: %s", name)
		}
	}
	mixedStore := service.NewMixedStore(stores, cfg.Stores.Mappings, log)
	migrator := service.NewMigrator(draftStore, splitStore, log)

	var limiter *ratelimit.RateLimiter
	if components.Redis != nil {
		limiter = ratelimit.NewRateLimiter(components.Redis, log)
	}

	return &Container{
		Components:     components,
		BlockRepo:      blockRepo,
		IndexRepo:      indexRepo,
		StructureRepo:  structureRepo,
		DefinitionRepo: definitionRepo,
		Inheritance:    inheritance,
		DraftStore:     draftStore,
		SplitStore:     splitStore,
		MixedStore:     mixedStore,
		Migrator:       migrator,
		RateLimiter:    limiter,
	}, nil
}
