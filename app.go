package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/camden-git/familytree/config"
	"github.com/camden-git/familytree/database"
	"github.com/camden-git/familytree/propagation"
	"github.com/camden-git/familytree/repository"
	"github.com/camden-git/familytree/search"
	"github.com/camden-git/familytree/services"
	"github.com/camden-git/familytree/tree"
	"github.com/camden-git/familytree/validation"
	"github.com/camden-git/familytree/workers"
)

// app holds the components shared by every command.
type app struct {
	people   repository.PersonRepositoryInterface
	tasks    repository.TaskRepositoryInterface
	executor *propagation.Executor
	service  *services.PersonService
	closers  []func() error
}

func newApp(cfg config.Config, logger *zap.Logger, notifier services.Notifier) (*app, error) {
	a := &app{}
	if err := a.openStores(cfg, logger); err != nil {
		return nil, err
	}

	script, err := cfg.LocalScript()
	if err != nil {
		a.Close()
		return nil, err
	}
	fields, err := validation.NewFieldValidator(validation.FieldRules{
		LocalScript:  script,
		PhotoHost:    regexp.MustCompile(cfg.PhotoHostPattern),
		BioMaxLength: cfg.BioMaxLength,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build field validator: %w", err)
	}

	a.executor = propagation.NewExecutor(a.people, logger, cfg.ConflictRetries)
	a.service = services.NewPersonService(services.PersonServiceDeps{
		People:          a.people,
		Tasks:           a.tasks,
		Fields:          fields,
		Relations:       validation.NewRelationshipValidator(cfg.MaxAncestryScan),
		Executor:        a.executor,
		Assembler:       tree.NewAssembler(a.people, cfg.MaxTreeDepth),
		Index:           search.NewIndex(a.people, cfg.SearchLimit),
		Notifier:        notifier,
		Logger:          logger.Named("people"),
		PropagationMode: cfg.PropagationMode,
		MaxAncestryScan: cfg.MaxAncestryScan,
	})
	return a, nil
}

func (a *app) openStores(cfg config.Config, logger *zap.Logger) error {
	switch cfg.StoreBackend {
	case config.StoreBackendBadger:
		db, err := database.OpenBadger(database.BadgerConfig{
			Path:       cfg.BadgerPath,
			SyncWrites: true,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		a.people = repository.NewBadgerPersonRepository(db)
		a.tasks = repository.NewBadgerTaskRepository(db)
		a.closers = append(a.closers, db.Close)
		logger.Info("Using badger store", zap.String("path", cfg.BadgerPath))

	default:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
		db, err := database.InitGormDB(cfg.DatabasePath, logger)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		if err := database.AutoMigrateModels(db); err != nil {
			a.Close()
			return err
		}
		a.people = repository.NewPersonRepository(db)
		a.tasks = repository.NewTaskRepository(db)
	}
	return nil
}

func (a *app) newWorker(cfg config.Config, notifier workers.Notifier, logger *zap.Logger) *workers.PropagationWorker {
	return workers.NewPropagationWorker(workers.PropagationConfig{
		QueueSize:      cfg.PropagationQueueSize,
		NumWorkers:     cfg.NumPropagationWorkers,
		MaxAttempts:    cfg.PropagationMaxAttempts,
		InitialBackoff: cfg.PropagationInitialBackoff,
		RetryInterval:  cfg.PropagationRetryInterval,
		RecordedGrace:  cfg.PropagationRecordedGrace,
	}, a.tasks, a.executor, notifier, logger)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
