// Package postgres implements storage.Storage over gorm/postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openliq/aggregator/internal/storage"
	"github.com/openliq/aggregator/internal/storage/models"
)

// gormLogger adapts zap to gorm's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage connects to postgres and returns the storage implementation.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

// RunMigrations auto-migrates the schema under an advisory lock so
// concurrent service instances don't race.
func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(101)")

	err = p.db.AutoMigrate(
		&models.OperationRecord{},
		&models.VenueRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (p *postgresStorage) SaveOperation(ctx context.Context, op *models.OperationRecord) error {
	return p.db.WithContext(ctx).Create(op).Error
}

func (p *postgresStorage) GetOperation(ctx context.Context, operationID string) (*models.OperationRecord, error) {
	var op models.OperationRecord
	err := p.db.WithContext(ctx).Where("operation_id = ?", operationID).First(&op).Error
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (p *postgresStorage) ListOperations(ctx context.Context, caller string, limit, offset int) ([]*models.OperationRecord, error) {
	var ops []*models.OperationRecord
	err := p.db.WithContext(ctx).
		Where("caller = ?", caller).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&ops).Error
	return ops, err
}

func (p *postgresStorage) SaveVenue(ctx context.Context, venue *models.VenueRecord) error {
	return p.db.WithContext(ctx).
		Where(models.VenueRecord{VenueID: venue.VenueID}).
		Assign(models.VenueRecord{Name: venue.Name, Address: venue.Address, Active: venue.Active}).
		FirstOrCreate(venue).Error
}

func (p *postgresStorage) DeactivateVenue(ctx context.Context, venueID string) error {
	return p.db.WithContext(ctx).Model(&models.VenueRecord{}).
		Where("venue_id = ?", venueID).
		Update("active", false).Error
}

func (p *postgresStorage) ListVenues(ctx context.Context) ([]*models.VenueRecord, error) {
	var venues []*models.VenueRecord
	err := p.db.WithContext(ctx).Where("active = ?", true).Find(&venues).Error
	return venues, err
}
