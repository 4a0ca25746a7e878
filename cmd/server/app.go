package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"userhub/internal/config"
	"userhub/internal/domain"
	apphttp "userhub/internal/http"
	"userhub/internal/metrics"
	"userhub/internal/repository"
	"userhub/internal/repository/memory"
	"userhub/internal/repository/sqlite"
	"userhub/internal/service"
	"userhub/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	repoOpts := []memory.Option{
		memory.WithLogger(logger),
		memory.WithLatency(latencyFrom(cfg)),
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		var err error
		if m, err = metrics.New(true); err != nil {
			return fmt.Errorf("setup metrics: %w", err)
		}
		repoOpts = append(repoOpts, memory.WithObserver(m))
	}

	db, snapshots, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	repo, err := loadRepository(ctx, cfg, snapshots, logger, repoOpts...)
	if err != nil {
		return err
	}
	userService := service.NewUserService(repo, service.WithLogger(logger))

	exporter, err := buildExporter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if m != nil {
		router.Use(m.Middleware())
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}
	var snapshotExporter apphttp.SnapshotExporter
	if exporter != nil {
		snapshotExporter = exporter
	}
	apphttp.NewHandler(userService, snapshotExporter, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
		if snapshots != nil {
			users := repo.Snapshot()
			if err := snapshots.Save(shutdownCtx, users); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
			logger.WithField("users", len(users)).Info("snapshot saved")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("bye")
	return nil
}

func runExport(ctx context.Context, cfg config.Config, logger *logrus.Logger, keep int) (string, error) {
	exporter, err := buildExporter(ctx, cfg, logger)
	if err != nil {
		return "", fmt.Errorf("setup storage: %w", err)
	}
	if exporter == nil {
		return "", fmt.Errorf("storage bucket is required for export")
	}

	db, snapshots, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	if db != nil {
		defer db.Close()
	}

	repo, err := loadRepository(ctx, cfg, snapshots, logger, memory.WithLogger(logger), memory.WithLatency(memory.NoLatency()))
	if err != nil {
		return "", err
	}

	location, err := exporter.Export(ctx, repo.Snapshot())
	if err != nil {
		return "", err
	}
	if keep > 0 {
		removed, err := exporter.Prune(ctx, keep)
		if err != nil {
			return "", err
		}
		logger.WithField("removed", removed).Info("old snapshots pruned")
	}
	return location, nil
}

func latencyFrom(cfg config.Config) memory.Latency {
	if !cfg.Latency.Enabled {
		return memory.NoLatency()
	}
	return memory.Latency{
		Create: memory.LatencyRange(cfg.Latency.Create),
		Update: memory.LatencyRange(cfg.Latency.Update),
		Read:   memory.LatencyRange(cfg.Latency.Read),
	}
}

// openSnapshotStore returns nils when no database path is configured.
func openSnapshotStore(ctx context.Context, cfg config.Config) (*sql.DB, repository.SnapshotStore, error) {
	if cfg.Database.Path == "" {
		return nil, nil, nil
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	store := sqlite.NewUserSnapshotStore(db)
	if err := store.Init(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init snapshot store: %w", err)
	}
	return db, store, nil
}

// loadRepository restores the last saved snapshot when there is one and
// falls back to the demo seed otherwise.
func loadRepository(ctx context.Context, cfg config.Config, snapshots repository.SnapshotStore, logger logrus.FieldLogger, opts ...memory.Option) (*memory.UserRepository, error) {
	var saved []domain.User
	if snapshots != nil {
		users, err := snapshots.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		saved = users
	}

	if len(saved) == 0 && cfg.Seed.Enabled {
		opts = append(opts, memory.WithSeed())
	}
	repo, err := memory.NewUserRepository(opts...)
	if err != nil {
		return nil, fmt.Errorf("build repository: %w", err)
	}

	if len(saved) > 0 {
		if err := repo.Restore(saved); err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		logger.WithField("users", len(saved)).Info("restored users from snapshot")
	}
	return repo, nil
}

// buildExporter returns a nil exporter when no bucket is configured.
func buildExporter(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*storage.Exporter, error) {
	if cfg.Storage.Bucket == "" {
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewExporter(storage.NewS3Service(client), cfg.Storage.Bucket, cfg.Storage.KeyPrefix, storage.WithExportLogger(logger)), nil
}
