package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cartouche-dev/cartouche/pkg/adapters"
	"github.com/cartouche-dev/cartouche/pkg/artifacts"
	"github.com/cartouche-dev/cartouche/pkg/config"
	"github.com/cartouche-dev/cartouche/pkg/events"
	"github.com/cartouche-dev/cartouche/pkg/orchestrator"
	"github.com/cartouche-dev/cartouche/pkg/store"
)

// buildDeps wires the store, locker, providers, artifact store and event
// bus from configuration. The returned cleanup closes everything in
// reverse order and is safe to defer immediately.
func buildDeps(ctx context.Context, cfg *config.Config) (orchestrator.Deps, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return orchestrator.Deps{}, cleanup, err
	}
	cleanups = append(cleanups, func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	})

	var locker store.Locker = store.NewKeyedLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return orchestrator.Deps{}, cleanup, errors.Wrap(err, "parse redis url")
		}
		client := redis.NewClient(opts)
		cleanups = append(cleanups, func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("close redis client")
			}
		})
		rl, err := store.NewRedisLocker(client, 0)
		if err != nil {
			return orchestrator.Deps{}, cleanup, err
		}
		locker = rl
	}

	set, err := adapters.NewSet(ctx, adapters.ProviderConfig{
		Generator:       cfg.Generator,
		Judge:           cfg.Judge,
		JudgeModel:      cfg.JudgeModel,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		GeminiAPIKey:    cfg.GeminiAPIKey,
	})
	if err != nil {
		return orchestrator.Deps{}, cleanup, err
	}
	cleanups = append(cleanups, func() {
		if err := set.Close(); err != nil {
			log.Warn().Err(err).Msg("close providers")
		}
	})

	files, err := artifacts.NewFileStore(cfg.ArtifactsDir)
	if err != nil {
		return orchestrator.Deps{}, cleanup, err
	}

	bus := events.NewBus()
	cleanups = append(cleanups, func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("close event bus")
		}
	})

	return orchestrator.Deps{
		Store:     st,
		Locker:    locker,
		Generator: set.Generator,
		Evaluator: set.Evaluator,
		Refiner:   set.Refiner,
		Artifacts: files,
		Bus:       bus,
	}, cleanup, nil
}

// loopSettings maps config onto orchestrator settings, honoring per-command
// flag overrides already applied to cfg.
func loopSettings(cfg *config.Config) (orchestrator.Settings, error) {
	rubric := adapters.DefaultRubric()
	if cfg.RubricFile != "" {
		r, err := adapters.LoadRubric(cfg.RubricFile)
		if err != nil {
			return orchestrator.Settings{}, err
		}
		rubric = r
	}
	return orchestrator.Settings{
		TargetScore:   cfg.TargetScore,
		MaxIterations: cfg.MaxIterations,
		TurnTimeout:   cfg.TurnTimeout,
		Rubric:        rubric,
		Generation: adapters.GenerationSettings{
			Model:        cfg.GeneratorModel,
			Size:         cfg.ImageSize,
			Quality:      cfg.ImageQuality,
			VariantCount: cfg.Variants,
		},
	}, nil
}
