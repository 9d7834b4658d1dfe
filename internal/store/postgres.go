package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type visit struct {
	ID        uint      `gorm:"primaryKey"`
	At        time.Time `gorm:"column:arrived_at;index;not null"`
	GroupSize int       `gorm:"not null"`
}

func (visit) TableName() string { return "visits" }

type Postgres struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.AutoMigrate(&visit{}); err != nil {
		return nil, fmt.Errorf("failed to migrate visits: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Record(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	v := visit{At: r.At.UTC(), GroupSize: r.GroupSize}
	if err := p.db.WithContext(ctx).Create(&v).Error; err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (p *Postgres) Total(ctx context.Context) (int64, error) {
	var total int64
	err := p.db.WithContext(ctx).Model(&visit{}).Select("COALESCE(SUM(group_size), 0)").Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum visits: %w", err)
	}
	return total, nil
}

func (p *Postgres) Since(ctx context.Context, t time.Time) ([]Record, error) {
	var rows []visit
	err := p.db.WithContext(ctx).Where("arrived_at >= ?", t.UTC()).Order("arrived_at, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	out := make([]Record, len(rows))
	for i, v := range rows {
		out[i] = Record{At: v.At, GroupSize: v.GroupSize}
	}
	return out, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
