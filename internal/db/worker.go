package db

import (
	"context"
	"database/sql"
	"errors"
)

var ErrWorkerClosed = errors.New("db: worker closed")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serializes write transactions onto one goroutine
type Worker struct {
	conn *sql.DB
	jobs chan job
	done chan struct{}
	quit chan struct{}
}

func NewWorker(conn *sql.DB) *Worker {
	w := &Worker{
		conn: conn,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Do runs fn in a transaction on the worker goroutine and waits for the result.
// If ctx ends first the transaction may still commit.
func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)

	select {
	case <-w.quit:
		return ErrWorkerClosed
	default:
	}

	select {
	case w.jobs <- job{ctx: ctx, fn: fn, ch: ch}:
	case <-w.quit:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		select {
		case err := <-ch:
			return err
		default:
			return ErrWorkerClosed
		}
	}
}

// Close finishes queued jobs and stops the worker
func (w *Worker) Close() {
	select {
	case <-w.quit:
		return
	default:
	}
	close(w.quit)
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		select {
		case j := <-w.jobs:
			w.run(j)
		case <-w.quit:
			for {
				select {
				case j := <-w.jobs:
					w.run(j)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) run(j job) {
	tx, err := w.conn.BeginTx(j.ctx, nil)
	if err != nil {
		j.ch <- err
		return
	}

	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		j.ch <- err
		return
	}

	j.ch <- tx.Commit()
}
