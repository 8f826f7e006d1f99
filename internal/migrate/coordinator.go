// Package migrate reconciles physical tables with record types. Migration is
// additive: tables are created when missing and grow new columns, but no
// column is ever removed or retyped. Tables are dropped only on request.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moisturizer/moisturizer/internal/backend"
	merrors "github.com/moisturizer/moisturizer/internal/errors"
	"github.com/moisturizer/moisturizer/pkg/types"
)

// DefaultParallelism bounds concurrent table syncs in ReconcileAll.
const DefaultParallelism = 4

// Action is what Sync did to a table.
type Action string

const (
	ActionNone    Action = "none"
	ActionCreated Action = "created"
	ActionAltered Action = "altered"
)

// SyncResult describes one table sync.
type SyncResult struct {
	Table        string
	Action       Action
	AddedColumns []string
}

// Changed reports whether the sync issued a schema change.
func (r *SyncResult) Changed() bool {
	return r.Action != ActionNone
}

// ReconcileReport summarizes a ReconcileAll pass.
type ReconcileReport struct {
	Results   []*SyncResult
	Created   int
	Altered   int
	Unchanged int
	RunAt     time.Time
	Duration  time.Duration
}

// Coordinator applies record types to a backend.
type Coordinator struct {
	backend     backend.Backend
	logger      *zap.Logger
	parallelism int
}

// NewCoordinator creates a coordinator over b.
func NewCoordinator(b backend.Backend, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		backend:     b,
		logger:      logger.Named("migrate"),
		parallelism: DefaultParallelism,
	}
}

// SetParallelism sets how many tables ReconcileAll syncs at once.
func (c *Coordinator) SetParallelism(n int) {
	if n <= 0 {
		n = DefaultParallelism
	}
	c.parallelism = n
}

// Sync brings the table of rt in line with its columns. A table that already
// has every column is left alone and no schema call is made.
func (c *Coordinator) Sync(ctx context.Context, rt *types.RecordType) (*SyncResult, error) {
	return c.sync(ctx, rt, false)
}

// Resync is Sync, except that an existing table is always passed to the
// backend's alter so per-column attributes such as indexes are reapplied.
func (c *Coordinator) Resync(ctx context.Context, rt *types.RecordType) (*SyncResult, error) {
	return c.sync(ctx, rt, true)
}

func (c *Coordinator) sync(ctx context.Context, rt *types.RecordType, force bool) (*SyncResult, error) {
	result := &SyncResult{Table: rt.Table, Action: ActionNone}

	existing, err := c.backend.TableColumns(ctx, rt.Table)
	switch {
	case errors.Is(err, backend.ErrTableNotFound):
		if err := c.backend.CreateTable(ctx, rt); err != nil {
			c.logger.Error("table create failed", zap.String("table", rt.Table), zap.Error(err))
			return nil, merrors.NewMigrationError(merrors.CodeTableCreateFailed,
				fmt.Sprintf("failed to create table %s", rt.Table), err)
		}
		result.Action = ActionCreated
		result.AddedColumns = rt.ColumnNames()
		c.logger.Info("created table", zap.String("table", rt.Table), zap.Strings("columns", result.AddedColumns))
		return result, nil
	case err != nil:
		return nil, merrors.NewMigrationError(merrors.CodeTableAlterFailed,
			fmt.Sprintf("failed to inspect table %s", rt.Table), err)
	}

	missing := rt.MissingColumns(existing)
	if len(missing) == 0 && !force {
		return result, nil
	}
	if err := c.backend.AlterTable(ctx, rt); err != nil {
		c.logger.Error("table alter failed", zap.String("table", rt.Table), zap.Error(err))
		return nil, merrors.NewMigrationError(merrors.CodeTableAlterFailed,
			fmt.Sprintf("failed to alter table %s", rt.Table), err)
	}
	if len(missing) == 0 {
		return result, nil
	}
	result.Action = ActionAltered
	for _, col := range missing {
		result.AddedColumns = append(result.AddedColumns, col.Name)
	}
	c.logger.Info("altered table", zap.String("table", rt.Table), zap.Strings("added", result.AddedColumns))
	return result, nil
}

// Drop removes the table of rt. Dropping a missing table succeeds.
func (c *Coordinator) Drop(ctx context.Context, rt *types.RecordType) error {
	if err := c.backend.DropTable(ctx, rt); err != nil {
		c.logger.Error("table drop failed", zap.String("table", rt.Table), zap.Error(err))
		return merrors.NewMigrationError(merrors.CodeTableDropFailed,
			fmt.Sprintf("failed to drop table %s", rt.Table), err)
	}
	c.logger.Info("dropped table", zap.String("table", rt.Table))
	return nil
}

// ReconcileAll syncs every record type, a bounded number at a time. The
// first failure cancels the remaining syncs and is returned.
func (c *Coordinator) ReconcileAll(ctx context.Context, rts []*types.RecordType) (*ReconcileReport, error) {
	start := time.Now()
	report := &ReconcileReport{
		Results: make([]*SyncResult, len(rts)),
		RunAt:   start,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, rt := range rts {
		i, rt := i, rt
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := c.Sync(gctx, rt)
			if err != nil {
				return err
			}
			report.Results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range report.Results {
		switch res.Action {
		case ActionCreated:
			report.Created++
		case ActionAltered:
			report.Altered++
		default:
			report.Unchanged++
		}
	}
	report.Duration = time.Since(start)
	c.logger.Info("reconciliation complete",
		zap.Int("tables", len(rts)),
		zap.Int("created", report.Created),
		zap.Int("altered", report.Altered),
		zap.Int("unchanged", report.Unchanged),
		zap.Duration("duration", report.Duration))
	return report, nil
}
