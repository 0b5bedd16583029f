package main

import "errors"

var (
	ErrLedgerRequired   = errors.New("ledger path required (--ledger or ledger in config)")
	ErrNegativeThreads  = errors.New("threads must not be negative")
	ErrNegativeQueue    = errors.New("queue size must not be negative")
	ErrMoveWorkersRange = errors.New("move-workers must be at least 1")
)
