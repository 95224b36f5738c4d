package scheduler

import (
	"context"
)

// FuncJob adapts a function into a Job.
type FuncJob struct {
	JobName  string
	CronExpr string
	RunFunc  func(ctx context.Context) error
}

func (j FuncJob) Name() string                  { return j.JobName }
func (j FuncJob) Schedule() string              { return j.CronExpr }
func (j FuncJob) Run(ctx context.Context) error { return j.RunFunc(ctx) }

// SnapshotJob persists a portfolio snapshot every five minutes.
func SnapshotJob(run func(ctx context.Context) error) Job {
	return FuncJob{
		JobName:  "pnl_snapshot",
		CronExpr: "0 */5 * * * *",
		RunFunc:  run,
	}
}

// ReconcileJob compares ledger positions against the exchange hourly.
func ReconcileJob(run func(ctx context.Context) error) Job {
	return FuncJob{
		JobName:  "position_reconcile",
		CronExpr: "0 0 * * * *",
		RunFunc:  run,
	}
}
