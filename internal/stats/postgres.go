package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type playerStat struct {
	Game      string `gorm:"primaryKey;size:64"`
	Player    string `gorm:"primaryKey;size:64"`
	Stat      string `gorm:"primaryKey;size:64"`
	Value     int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (playerStat) TableName() string { return "player_stats" }

// Postgres persists counters in the player_stats table.
type Postgres struct {
	db    *gorm.DB
	sqlDB *sql.DB
	pool  *pgxpool.Pool
}

// OpenPostgres connects through a pgx pool and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&playerStat{}); err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db, sqlDB: sqlDB, pool: pool}, nil
}

func (p *Postgres) Add(ctx context.Context, game, player, stat string, delta int64) error {
	row := playerStat{Game: game, Player: player, Stat: stat, Value: delta, UpdatedAt: time.Now().UTC()}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "game"}, {Name: "player"}, {Name: "stat"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      gorm.Expr("player_stats.value + EXCLUDED.value"),
			"updated_at": gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("add %s/%s/%s: %w", game, player, stat, err)
	}
	return nil
}

func (p *Postgres) Top(ctx context.Context, game, stat string, limit int) ([]Entry, error) {
	q := p.db.WithContext(ctx).
		Where("game = ? AND stat = ?", game, stat).
		Order("value DESC, player ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []playerStat
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("top %s/%s: %w", game, stat, err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{Player: r.Player, Value: r.Value})
	}
	return out, nil
}

func (p *Postgres) Close() error {
	err := p.sqlDB.Close()
	p.pool.Close()
	return err
}
