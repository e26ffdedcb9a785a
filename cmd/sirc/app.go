package main

import (
	"path/filepath"

	"sirc/internal/config"
	"sirc/internal/contextualizer"
	"sirc/internal/crdt"
	"sirc/internal/embedding"
	"sirc/internal/export"
	"sirc/internal/federation"
	"sirc/internal/linker"
	"sirc/internal/logging"
	"sirc/internal/memory"
	"sirc/internal/reasoner"
	"sirc/internal/search"
	"sirc/internal/store"
	"sirc/internal/topic"
)

// application bundles every SIRC component, wired from one Config and one
// Store, matching the composition in spec.md's "Composition / data flow".
type application struct {
	cfg     *config.Config
	store   *store.Store
	engine  embedding.EmbeddingEngine
	search  *search.Searcher
	cache   *federation.Cache
	linker  *linker.Linker
	ctx     *contextualizer.Contextualizer
	reason  *reasoner.Reasoner
	topics  *topic.Modeller
	mem     *memory.Manager
	bus     *crdt.Bus
	exp     *export.Exporter
}

func buildApp(workspace, configRelPath string) (*application, error) {
	cfg, err := config.Load(filepath.Join(workspace, configRelPath))
	if err != nil {
		return nil, err
	}

	debugMode, categories, level, jsonFormat := cfg.LoggingSettings()
	if err := logging.Initialize(workspace, logging.Settings{
		DebugMode: debugMode, Categories: categories, Level: level, JSONFormat: jsonFormat,
	}); err != nil {
		logging.Get(logging.CategoryBoot).Warn("failed to initialize file logging: %v", err)
	}

	dbPath := cfg.Storage.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	s, err := store.Open(dbPath, cfg.Storage.RequireVec)
	if err != nil {
		return nil, err
	}

	engineCfg := embedding.Config{
		Provider: cfg.Embedding.Provider, MockDimensions: cfg.Morton.EmbedDim,
		GenAIAPIKey: cfg.Embedding.GenAIAPIKey, GenAIModel: cfg.Embedding.GenAIModel, TaskType: cfg.Embedding.TaskType,
	}
	engine, err := embedding.NewEngine(engineCfg)
	if err != nil {
		return nil, err
	}

	searcher := search.New(s, engine, cfg.Search)
	cache := federation.New(s, cfg.Federation.MaxCacheNodes)
	lk := linker.New(s, cfg.Linker)
	ctxr := contextualizer.New(s, lk, cfg.Context)
	rsn := reasoner.New(s, cache, lk, cfg.Reasoner)
	tm := topic.New(s, cfg.Topic, cfg.TopicDecayWindow())
	mm := memory.New(s, cfg.Memory)
	bus := crdt.New(s)
	exp := export.New(s, bus, tm)

	return &application{
		cfg: cfg, store: s, engine: engine, search: searcher, cache: cache,
		linker: lk, ctx: ctxr, reason: rsn, topics: tm, mem: mm, bus: bus, exp: exp,
	}, nil
}
