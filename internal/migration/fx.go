package migration

import (
	"github.com/smallbiznis/allowance/internal/config"
	"github.com/smallbiznis/allowance/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply runs the embedded migrations at startup when DATABASE_MIGRATE is
// set. Only postgres is migrated; other dialects are expected to be
// provisioned out of band.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if !cfg.DBMigrate {
		log.Info("schema migrations disabled")
		return nil
	}
	if conn.Dialector.Name() != db.DialectPostgres {
		log.Warn("embedded migrations target postgres; skipping", zap.String("dialect", conn.Dialector.Name()))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	log.Info("metering schema ready", zap.Uint("version", version))
	return nil
}
