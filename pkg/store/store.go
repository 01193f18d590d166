// Package store provides the persistent record store and its notification
// channel. Records are kept in a SQL database (sqlite or postgres via gorm);
// creation and state changes are published to channel subscribers.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/record"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ChannelNode is the notification channel carrying record events.
const ChannelNode = "node"

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = fmt.Errorf("record not found")

// Store provides persistence and change notification for records.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Create persists a new record, assigns its id and timestamps, and
	// publishes it on the node channel.
	Create(ctx context.Context, rec *record.Record) (*record.Record, error)

	// Get fetches a record by id.
	Get(ctx context.Context, id string) (*record.Record, error)

	// Find returns all records matching the filter, oldest first.
	Find(ctx context.Context, filter Filter) ([]*record.Record, error)

	// SetState transitions a record to the given state (and result, if
	// non-empty) and publishes the updated record on the node channel.
	SetState(ctx context.Context, id, state, result string) (*record.Record, error)

	// Subscribe registers a filtered subscription on the named channel.
	Subscribe(channel string, filter Filter) int

	// Receive blocks until the subscription's next matching record.
	Receive(ctx context.Context, subID int) (*record.Record, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(subID int) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log      logrus.FieldLogger
	cfg      *config.StoreConfig
	db       *gorm.DB
	notifier *notifier
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.StoreConfig) Store {
	return &store{
		log:      log.WithField("component", "store"),
		cfg:      cfg,
		notifier: newNotifier(log),
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&recordRow{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Record store connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) Create(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if !record.ValidKind(rec.Kind) {
		return nil, fmt.Errorf("invalid record kind %q", rec.Kind)
	}

	// A parent must already exist in the store. Together with ids being
	// assigned here, this keeps the parent relation acyclic.
	if rec.Parent != "" {
		if _, err := s.Get(ctx, rec.Parent); err != nil {
			return nil, fmt.Errorf("resolving parent %s: %w", rec.Parent, err)
		}
	} else if rec.Kind != record.KindCheckout {
		return nil, fmt.Errorf("%s record requires a parent", rec.Kind)
	}

	now := time.Now().UTC()

	stored := *rec
	stored.ID = uuid.NewString()
	stored.Created = now
	stored.Updated = now

	if stored.State == "" {
		stored.State = record.StateAvailable
	}

	if err := s.db.WithContext(ctx).Create(rowFromRecord(&stored)).Error; err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}

	s.notifier.publish(ChannelNode, &stored)

	return &stored, nil
}

func (s *store) Get(ctx context.Context, id string) (*record.Record, error) {
	var row recordRow
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("getting record %s: %w", id, err)
	}

	return row.toRecord(), nil
}

func (s *store) Find(ctx context.Context, filter Filter) ([]*record.Record, error) {
	query := s.db.WithContext(ctx).Model(&recordRow{})
	rest := make(Filter)

	for key, value := range filter {
		switch key {
		case FieldKind:
			query = query.Where("kind = ?", value)
		case FieldName:
			query = query.Where("name = ?", value)
		case FieldGroup:
			query = query.Where("grp = ?", value)
		case FieldParent:
			query = query.Where("parent = ?", value)
		case FieldState:
			query = query.Where("state = ?", value)
		case FieldResult:
			query = query.Where("result = ?", value)
		case FieldCreatedAfter:
			after, err := time.Parse(DateLayout, value)
			if err != nil {
				return nil, fmt.Errorf("invalid created_after date %q: %w", value, err)
			}

			query = query.Where("created_at > ?", after)
		default:
			// Namespaced payload fields are matched after loading.
			rest[key] = value
		}
	}

	var rows []recordRow
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("finding records: %w", err)
	}

	records := make([]*record.Record, 0, len(rows))

	for i := range rows {
		rec := rows[i].toRecord()
		if rest.Matches(rec) {
			records = append(records, rec)
		}
	}

	return records, nil
}

func (s *store) SetState(ctx context.Context, id, state, result string) (*record.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.State = state
	if result != "" {
		rec.Result = result
	}

	rec.Updated = time.Now().UTC()

	if err := s.db.WithContext(ctx).Save(rowFromRecord(rec)).Error; err != nil {
		return nil, fmt.Errorf("updating record %s: %w", id, err)
	}

	s.notifier.publish(ChannelNode, rec)

	return rec, nil
}

func (s *store) Subscribe(channel string, filter Filter) int {
	return s.notifier.subscribe(channel, filter)
}

func (s *store) Receive(ctx context.Context, subID int) (*record.Record, error) {
	return s.notifier.receive(ctx, subID)
}

func (s *store) Unsubscribe(subID int) error {
	return s.notifier.unsubscribe(subID)
}
