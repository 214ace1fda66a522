package migrate

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/schema"
)

// advisoryLockKey serializes reconcile across concurrently starting
// processes sharing one database.
const advisoryLockKey int64 = 0x6d6b7031 // "mkp1"

// Surface is the subset of DDL operations reconcile needs. It matches
// gorm.Migrator so the production path is a thin adapter, while tests
// substitute an in-memory fake.
type Surface interface {
	HasTable(model any) bool
	CreateTable(models ...any) error
	HasColumn(model any, field string) bool
	AddColumn(model any, field string) error
}

// Migrator reconciles the live database schema against code descriptors.
type Migrator struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Migrator {
	return &Migrator{db: db}
}

// Reconcile applies every missing table and column inside a transaction
// holding an advisory lock, then returns the applied plan. A failure is
// fatal to startup; partially applied operations are safe to retry
// because each operation is individually idempotent.
func (m *Migrator) Reconcile(ctx context.Context, descriptors []schema.Descriptor) (Plan, error) {
	if m == nil || m.db == nil {
		return Plan{}, errors.New("migrator: nil database")
	}

	var plan Plan
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryLockKey).Error; err != nil {
			return errors.Wrap(err, "acquire schema lock")
		}
		applied, err := Reconcile(tx.Migrator(), descriptors)
		if err != nil {
			return err
		}
		plan = applied
		return nil
	})
	if err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Reconcile computes and applies the additive diff between the expected
// descriptors and the persisted schema. Re-running it against an
// already-migrated schema yields an empty plan.
func Reconcile(surface Surface, descriptors []schema.Descriptor) (Plan, error) {
	var plan Plan
	for _, desc := range descriptors {
		if !surface.HasTable(desc.Model) {
			if err := surface.CreateTable(desc.Model); err != nil {
				return plan, errors.Wrap(err, "create table").With("entity", desc.Entity.String())
			}
			plan.add(Op{Kind: OpCreateTable, Entity: desc.Entity})
			logs.Infof("schema: created table %s", desc.Entity)
			continue
		}

		for _, field := range desc.Fields {
			if surface.HasColumn(desc.Model, field.Name) {
				continue
			}
			if err := surface.AddColumn(desc.Model, field.Name); err != nil {
				return plan, errors.Wrapf(err, "add column %s.%s", desc.Entity, field.Name)
			}
			plan.add(Op{Kind: OpAddColumn, Entity: desc.Entity, Column: field.Name})
			logs.Infof("schema: added column %s.%s", desc.Entity, field.Name)
		}
	}
	return plan, nil
}
