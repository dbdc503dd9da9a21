package migration

import (
	"github.com/lunahealth/lumen/internal/config"
	"github.com/lunahealth/lumen/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, holder *config.PolicyConfigHolder) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}

		if cfg.SeedUserID != "" {
			policy := holder.Get()
			return seed.EnsureStarterBalance(conn, cfg.SeedUserID, policy.SeedBalance)
		}
		return nil
	}),
)
