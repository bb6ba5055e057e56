// Package engine assembles the storage stack of a bufferdb instance from its configuration.
package engine

import (
	"bufferdb/buffer"
	"bufferdb/config"
	"bufferdb/file"
	"bufferdb/log"
	"bufferdb/logger"
	"bufferdb/tx"
	"bufferdb/tx/concurrency"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Engine struct {
	cfg       *config.Config
	fm        *file.Manager
	lm        *log.Manager
	bm        *buffer.Manager
	waiter    *tx.PinWaiter
	lockTable *concurrency.LockTable
	log       *logrus.Entry
}

// New opens (or creates) the database directory and builds the file, log and buffer managers on top of it.
// A checkpoint record is written before any transaction starts.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fm, err := file.NewManager(cfg.DBDir, cfg.BlockSize)
	if err != nil {
		return nil, err
	}
	lm, err := log.NewManager(fm, cfg.LogFile)
	if err != nil {
		_ = fm.Close()
		return nil, err
	}
	bm := buffer.NewManagerWithReplacementStrategy(fm, lm, cfg.BufferCapacity, buffer.NewStrategy(cfg.StrategyCode()))

	e := &Engine{
		cfg:       cfg,
		fm:        fm,
		lm:        lm,
		bm:        bm,
		waiter:    tx.NewPinWaiter(bm, cfg.PinTimeout),
		lockTable: concurrency.NewLockTable(cfg.LockTimeout),
		log:       logger.WithComponent("engine"),
	}

	lsn, err := tx.LogRecord{Op: tx.Checkpoint}.AppendTo(lm)
	if err == nil {
		err = lm.Flush(lsn)
	}
	if err != nil {
		_ = fm.Close()
		return nil, errors.Wrap(err, "failed to write startup checkpoint")
	}

	e.log.WithFields(logrus.Fields{
		"dir":      cfg.DBDir,
		"new":      fm.IsNew(),
		"buffers":  cfg.BufferCapacity,
		"pool":     humanize.IBytes(uint64(cfg.BufferCapacity * cfg.BlockSize)),
		"strategy": bm.Strategy().String(),
	}).Info("engine started")
	return e, nil
}

// NewTransaction starts a transaction over the engine's managers.
func (e *Engine) NewTransaction() (*tx.Transaction, error) {
	return tx.NewTransaction(e.fm, e.lm, e.waiter, e.lockTable)
}

func (e *Engine) Config() *config.Config         { return e.cfg }
func (e *Engine) FileManager() *file.Manager     { return e.fm }
func (e *Engine) LogManager() *log.Manager       { return e.lm }
func (e *Engine) BufferManager() *buffer.Manager { return e.bm }
func (e *Engine) PinWaiter() *tx.PinWaiter       { return e.waiter }

// Close flushes the log and closes the database files. Buffers still dirty belong to transactions that never
// committed and are dropped.
func (e *Engine) Close() error {
	if err := e.lm.Flush(e.lm.LatestLSN()); err != nil {
		return err
	}
	stats := e.bm.Stats()
	e.log.WithFields(logrus.Fields{
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"evictions": stats.Evictions,
		"reads":     e.fm.BlocksRead(),
		"writes":    e.fm.BlocksWritten(),
	}).Info("engine closed")
	return e.fm.Close()
}
