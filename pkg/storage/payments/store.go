package payments

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

// Config mirrors the storage configuration for the payments table.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	Table       string
	AutoMigrate bool
}

// Store implements storage.PaymentStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	Provider       string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_payment_key"`
	Kind           string    `gorm:"column:kind;size:32;not null;uniqueIndex:idx_payment_key"`
	PaymentID      string    `gorm:"column:payment_id;size:128;not null;uniqueIndex:idx_payment_key"`
	CustomerID     string    `gorm:"column:customer_id;size:128"`
	CustomerEmail  string    `gorm:"column:customer_email;size:255"`
	SubscriptionID string    `gorm:"column:subscription_id;size:128"`
	Amount         int64     `gorm:"column:amount"`
	Currency       string    `gorm:"column:currency;size:8"`
	Status         string    `gorm:"column:status;size:32"`
	FailureReason  string    `gorm:"column:failure_reason;type:text"`
	Dunning        bool      `gorm:"column:dunning"`
	MetadataJSON   string    `gorm:"column:metadata_json;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Open creates a GORM-backed payments store.
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
		table = "stripehooks_payments"
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

// UpsertPayment inserts or overwrites a payment record. The conflict target
// is (provider, kind, payment_id), so delivering the same event twice
// results in one row.
func (s *Store) UpsertPayment(ctx context.Context, record storage.PaymentRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if record.Provider == "" || record.PaymentID == "" {
		return errors.New("provider and payment id are required")
	}
	if record.Kind == "" {
		record.Kind = storage.PaymentKindIntent
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
			Columns: []clause.Column{{Name: "provider"}, {Name: "kind"}, {Name: "payment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"customer_id", "customer_email", "subscription_id", "amount", "currency",
				"status", "failure_reason", "dunning", "metadata_json", "updated_at",
			}),
		}).
		Create(&data).Error
}

// GetPayment fetches a single payment record.
func (s *Store) GetPayment(ctx context.Context, provider, kind, paymentID string) (*storage.PaymentRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("provider = ? AND kind = ? AND payment_id = ?", provider, kind, paymentID).
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

// ListPayments lists payment records matching the filter.
func (s *Store) ListPayments(ctx context.Context, filter storage.PaymentFilter) ([]storage.PaymentRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	query := s.tableDB().WithContext(ctx)
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.CustomerID != "" {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.SubscriptionID != "" {
		query = query.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Dunning != nil {
		query = query.Where("dunning = ?", *filter.Dunning)
	}

	var data []row
	if err := query.Order("updated_at desc").Find(&data).Error; err != nil {
		return nil, err
	}
	records := make([]storage.PaymentRecord, 0, len(data))
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

func toRow(record storage.PaymentRecord) row {
	return row{
		Provider:       record.Provider,
		Kind:           record.Kind,
		PaymentID:      record.PaymentID,
		CustomerID:     record.CustomerID,
		CustomerEmail:  record.CustomerEmail,
		SubscriptionID: record.SubscriptionID,
		Amount:         record.Amount,
		Currency:       record.Currency,
		Status:         record.Status,
		FailureReason:  record.FailureReason,
		Dunning:        record.Dunning,
		MetadataJSON:   record.MetadataJSON,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func fromRow(data row) storage.PaymentRecord {
	return storage.PaymentRecord{
		Provider:       data.Provider,
		Kind:           data.Kind,
		PaymentID:      data.PaymentID,
		CustomerID:     data.CustomerID,
		CustomerEmail:  data.CustomerEmail,
		SubscriptionID: data.SubscriptionID,
		Amount:         data.Amount,
		Currency:       data.Currency,
		Status:         data.Status,
		FailureReason:  data.FailureReason,
		Dunning:        data.Dunning,
		MetadataJSON:   data.MetadataJSON,
		CreatedAt:      data.CreatedAt,
		UpdatedAt:      data.UpdatedAt,
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
