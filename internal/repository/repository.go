package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/iqrfgd2/daemon/internal/auth"
	"github.com/iqrfgd2/daemon/internal/telemetry"
)

// DriverCode is a versioned JavaScript driver body, keyed to the product/
// firmware triple it was matched against.
type DriverCode struct {
	Name    string
	Version string
	Source  string
}

// Catalog is the narrow interface ApiHandlers and the runtime composition
// root consume (spec.md §4.9); the concrete Store below additionally
// implements auth.TokenStore for the authentication path.
type Catalog interface {
	Driver(ctx context.Context, productID, osBuild, dpaVersion uint32) (DriverCode, error)
	Product(ctx context.Context, hwpid uint16) (Product, error)
	Device(ctx context.Context, nadr uint8) (Device, error)
}

var (
	ErrProductNotFound = errors.New("repository: product not found")
	ErrDriverNotFound  = errors.New("repository: driver not found")
	ErrDeviceNotFound  = errors.New("repository: device not found")
)

// Store is the gorm/sqlite-backed Catalog and auth.TokenStore
// implementation. It opens a single sqlite file through gorm's dialector;
// the schema comes from the embedded SQL migrations applied by
// runMigrations, not from gorm AutoMigrate.
type Store struct {
	db *gorm.DB
}

// Open migrates path (a sqlite file) with golang-migrate, then opens it
// via gorm for ongoing reads/writes. Creates the parent directory and an
// empty file if neither exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create data directory: %w", err)
	}

	if err := runMigrations(path); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Product returns the product registered for hwpid.
func (s *Store) Product(ctx context.Context, hwpid uint16) (Product, error) {
	ctx, span := telemetry.StartRepositoryQuerySpan(ctx, "product_lookup")
	defer span.End()

	var p Product
	err := s.db.WithContext(ctx).Where("hwpid = ?", hwpid).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// Device returns the catalog record for nadr.
func (s *Store) Device(ctx context.Context, nadr uint8) (Device, error) {
	ctx, span := telemetry.StartRepositoryQuerySpan(ctx, "device_lookup")
	defer span.End()

	var d Device
	err := s.db.WithContext(ctx).Preload("BinaryOutputs").Preload("Lights").Preload("Sensors").
		Where("n_adr = ?", nadr).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Device{}, ErrDeviceNotFound
	}
	return d, err
}

// Driver returns the driver script matching the product/firmware triple.
// productID identifies the Product row (not the HWPID); osBuild and
// dpaVersion narrow to the firmware revision the driver targets.
func (s *Store) Driver(ctx context.Context, productID, osBuild, dpaVersion uint32) (DriverCode, error) {
	ctx, span := telemetry.StartRepositoryQuerySpan(ctx, "driver_lookup")
	defer span.End()

	var d Driver
	err := s.db.WithContext(ctx).
		Joins("JOIN product_drivers ON product_drivers.driver_id = drivers.id").
		Where("product_drivers.product_id = ? AND drivers.os_build = ? AND drivers.dpa_version = ?",
			productID, osBuild, dpaVersion).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DriverCode{}, ErrDriverNotFound
	}
	if err != nil {
		return DriverCode{}, err
	}
	return DriverCode{Name: d.Name, Version: d.Version, Source: d.Source}, nil
}

// TokenByID satisfies auth.TokenStore, backing StaticTokenProvider.
func (s *Store) TokenByID(ctx context.Context, id uint32) (auth.StoredToken, error) {
	var t APIToken
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.StoredToken{}, auth.ErrUnknownToken
	}
	if err != nil {
		return auth.StoredToken{}, err
	}
	return auth.StoredToken{
		ID:         t.ID,
		Salt:       t.Salt,
		SecretHash: t.SecretHash,
		Service:    t.Service,
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
		Revoked:    t.Revoked,
	}, nil
}

// IssueToken inserts a new API token record and returns its id, the <id>
// field of the wire-format token string ("iqrfgd2;<id>;<secret>"); it does
// not build that string. Only salt and secretHash are stored, never the
// plaintext secret.
func (s *Store) IssueToken(ctx context.Context, service string, ttl time.Duration, salt, secretHash []byte) (uint32, error) {
	now := time.Now()
	rec := APIToken{
		Salt:       salt,
		SecretHash: secretHash,
		Service:    service,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("repository: issue token: %w", err)
	}
	return rec.ID, nil
}

// RevokeToken marks id as revoked.
func (s *Store) RevokeToken(ctx context.Context, id uint32) error {
	res := s.db.WithContext(ctx).Model(&APIToken{}).Where("id = ?", id).Update("revoked", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return auth.ErrUnknownToken
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ Catalog         = (*Store)(nil)
	_ auth.TokenStore = (*Store)(nil)
)
