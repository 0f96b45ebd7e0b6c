package worker

import (
	"context"
	"fmt"
	"time"

	"ledgerindex/internal/amqp"
	"ledgerindex/internal/index"
)

// LocalRunner aggregates each chunk on a separate goroutine that opens its
// own handle on the record store, so the owner's connection is never shared.
type LocalRunner struct {
	Open       OpenFunc
	Location   *time.Location
	YieldEvery int
}

func (r LocalRunner) RunChunk(ctx context.Context, job index.ChunkJob) (*index.ChunkResult, error) {
	open := r.Open
	if open == nil {
		open = OpenSQLite
	}

	type outcome struct {
		res *index.ChunkResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := runJob(ctx, open, job, r.Location, r.YieldEvery)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ChunkRequester sends a chunk job to a remote worker and waits for the reply.
type ChunkRequester interface {
	RequestChunk(ctx context.Context, job index.ChunkJob) (*amqp.ChunkResultMessage, error)
}

// AMQPRunner hands chunk jobs to chunk-worker processes over AMQP.
type AMQPRunner struct {
	Client  ChunkRequester
	Timeout time.Duration
}

func (r AMQPRunner) RunChunk(ctx context.Context, job index.ChunkJob) (*index.ChunkResult, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	reply, err := r.Client.RequestChunk(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("request chunk: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", index.ErrJobFailed, reply.Error)
	}
	if reply.JobID != job.ID || reply.Result == nil {
		return nil, fmt.Errorf("%w: unexpected reply for job %s", index.ErrJobFailed, job.ID)
	}
	reply.Result.JobID = reply.JobID
	return reply.Result, nil
}
