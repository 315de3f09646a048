package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stripehooks/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Config mirrors the storage configuration for the subscriptions table.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	Table       string
	AutoMigrate bool
}

// Store implements storage.SubscriptionStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	Provider           string     `gorm:"column:provider;size:32;not null;uniqueIndex:idx_subscription_key"`
	SubscriptionID     string     `gorm:"column:subscription_id;size:128;not null;uniqueIndex:idx_subscription_key"`
	CustomerID         string     `gorm:"column:customer_id;size:128"`
	Status             string     `gorm:"column:status;size:32"`
	PriceID            string     `gorm:"column:price_id;size:128"`
	Quantity           int64      `gorm:"column:quantity"`
	CurrentPeriodStart *time.Time `gorm:"column:current_period_start"`
	CurrentPeriodEnd   *time.Time `gorm:"column:current_period_end"`
	CancelAtPeriodEnd  bool       `gorm:"column:cancel_at_period_end"`
	TerminatedAt       *time.Time `gorm:"column:terminated_at"`
	MetadataJSON       string     `gorm:"column:metadata_json;type:text"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed subscriptions store.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" && cfg.Dialect == "" {
		return nil, errors.New("storage driver or dialect is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		driver = normalizeDriver(cfg.Dialect)
	}
	if driver == "" {
		return nil, errors.New("unsupported storage driver")
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = "stripehooks_subscriptions"
	}
	store := &Store{
		db:    gormDB,
		table: table,
	}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertSubscription inserts or overwrites the subscription state. Conflict
// target is (provider, subscription_id); the latest write wins, no
// reconciliation against the previous row is attempted.
func (s *Store) UpsertSubscription(ctx context.Context, record storage.SubscriptionRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.Provider == "" || record.SubscriptionID == "" {
		return errors.New("provider and subscription id are required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data := toRow(record)
	return s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"customer_id", "status", "price_id", "quantity", "current_period_start",
				"current_period_end", "cancel_at_period_end", "terminated_at",
				"metadata_json", "updated_at",
			}),
		}).
		Create(&data).Error
}

// MarkTerminated records a deleted subscription. Implemented as an upsert so
// a deletion arriving before the creation event still leaves a terminated
// row behind.
func (s *Store) MarkTerminated(ctx context.Context, provider, subscriptionID string, endedAt time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if provider == "" || subscriptionID == "" {
		return errors.New("provider and subscription id are required")
	}
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	now := time.Now().UTC()
	data := row{
		Provider:       provider,
		SubscriptionID: subscriptionID,
		Status:         "canceled",
		TerminatedAt:   &endedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "terminated_at", "updated_at"}),
		}).
		Create(&data).Error
}

// GetSubscription fetches a single subscription record.
func (s *Store) GetSubscription(ctx context.Context, provider, subscriptionID string) (*storage.SubscriptionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("provider = ? AND subscription_id = ?", provider, subscriptionID).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRow(data)
	return &record, nil
}

// ListSubscriptions lists subscriptions for a provider/customer.
func (s *Store) ListSubscriptions(ctx context.Context, provider, customerID string) ([]storage.SubscriptionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	query := s.tableDB().WithContext(ctx)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}
	if customerID != "" {
		query = query.Where("customer_id = ?", customerID)
	}
	var data []row
	if err := query.Order("updated_at desc").Find(&data).Error; err != nil {
		return nil, err
	}
	records := make([]storage.SubscriptionRecord, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(record storage.SubscriptionRecord) row {
	return row{
		Provider:           record.Provider,
		SubscriptionID:     record.SubscriptionID,
		CustomerID:         record.CustomerID,
		Status:             record.Status,
		PriceID:            record.PriceID,
		Quantity:           record.Quantity,
		CurrentPeriodStart: record.CurrentPeriodStart,
		CurrentPeriodEnd:   record.CurrentPeriodEnd,
		CancelAtPeriodEnd:  record.CancelAtPeriodEnd,
		TerminatedAt:       record.TerminatedAt,
		MetadataJSON:       record.MetadataJSON,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}

func fromRow(data row) storage.SubscriptionRecord {
	return storage.SubscriptionRecord{
		Provider:           data.Provider,
		SubscriptionID:     data.SubscriptionID,
		CustomerID:         data.CustomerID,
		Status:             data.Status,
		PriceID:            data.PriceID,
		Quantity:           data.Quantity,
		CurrentPeriodStart: data.CurrentPeriodStart,
		CurrentPeriodEnd:   data.CurrentPeriodEnd,
		CancelAtPeriodEnd:  data.CancelAtPeriodEnd,
		TerminatedAt:       data.TerminatedAt,
		MetadataJSON:       data.MetadataJSON,
		CreatedAt:          data.CreatedAt,
		UpdatedAt:          data.UpdatedAt,
	}
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
