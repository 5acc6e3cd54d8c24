// Package worker holds the background loops: the automated withdrawal processor and the outbox relay.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"go.uber.org/zap"
)

// Workflow is the operator side of the withdrawal state machine.
type Workflow interface {
	ListWithdrawalsByStatus(ctx context.Context, caller auth.Caller, status model.WithdrawalStatus, before time.Time, limit int) ([]model.WithdrawalRequest, error)
	Approve(ctx context.Context, caller auth.Caller, id string) (*model.WithdrawalRequest, error)
	StartProcessing(ctx context.Context, caller auth.Caller, id string) (*model.WithdrawalRequest, error)
	Complete(ctx context.Context, caller auth.Caller, id string) (*model.WithdrawalRequest, error)
}

type ProcessorOptions struct {
	Interval time.Duration
	// ApproveAfter is how long a request stays pending before auto-approval.
	ApproveAfter time.Duration
	// CompleteAfter is how long a payout stays processing before it is marked completed.
	CompleteAfter time.Duration
	Batch         int
	Now           func() time.Time
}

// Processor stands in for a human reviewer and the payout gateway: it walks aged
// requests pending -> approved -> processing -> completed. It never fails a payout.
type Processor struct {
	wf   Workflow
	opts ProcessorOptions
	log  *zap.SugaredLogger
}

func NewProcessor(wf Workflow, opts ProcessorOptions, log *zap.SugaredLogger) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{wf: wf, opts: opts, log: log}
}

// Run ticks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.log.Infof("withdrawal processor started interval=%s", p.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("withdrawal processor stopped")
			return
		case <-ticker.C:
			if n, err := p.Tick(ctx); err != nil {
				p.log.Errorf("withdrawal processor: %v", err)
			} else if n > 0 {
				p.log.Infof("withdrawal processor moved %d requests", n)
			}
		}
	}
}

type stage struct {
	from  model.WithdrawalStatus
	after time.Duration
	move  func(ctx context.Context, caller auth.Caller, id string) (*model.WithdrawalRequest, error)
}

// Tick runs one pass and returns how many requests changed state. Stages run from the
// end of the pipeline backwards so one request advances at most one step per tick.
func (p *Processor) Tick(ctx context.Context) (int, error) {
	stages := []stage{
		{from: model.WithdrawalProcessing, after: p.opts.CompleteAfter, move: p.wf.Complete},
		{from: model.WithdrawalApproved, after: 0, move: p.wf.StartProcessing},
		{from: model.WithdrawalPending, after: p.opts.ApproveAfter, move: p.wf.Approve},
	}
	now := p.opts.Now()
	moved := 0
	for _, st := range stages {
		reqs, err := p.wf.ListWithdrawalsByStatus(ctx, auth.System, st.from, now.Add(-st.after), p.opts.Batch)
		if err != nil {
			return moved, err
		}
		for _, r := range reqs {
			if ctx.Err() != nil {
				return moved, ctx.Err()
			}
			if _, err := st.move(ctx, auth.System, r.ID); err != nil {
				if errors.Is(err, repo.ErrInvalidTransition) {
					// moved by someone else since the listing, e.g. cancelled by its owner
					continue
				}
				p.log.Warnf("withdrawal processor id=%s from=%s: %v", r.ID, st.from, err)
				continue
			}
			moved++
		}
	}
	return moved, nil
}
