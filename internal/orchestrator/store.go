package orchestrator

import (
	"context"
	"fmt"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/config"
	dbpkg "github.com/EricMurray-e-m-dev/SiteGuard/internal/db"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store/memory"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store/postgres"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store/redis"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store/sqlite"
)

// OpenStore opens the backend named by settings.Backend
func OpenStore(ctx context.Context, settings config.StoreSettings) (store.Store, error) {
	switch settings.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite, "":
		return sqlite.Open(ctx, dbpkg.Config{Path: settings.SQLitePath})
	case config.BackendRedis:
		return redis.NewStore(settings.RedisAddr, settings.RedisPassword, settings.RedisDB)
	case config.BackendPostgres:
		return postgres.NewStore(ctx, settings.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", settings.Backend)
	}
}
