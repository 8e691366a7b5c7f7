package helpdesk

import (
	"context"
	"time"

	"github.com/ashureev/shsh-support/internal/domain"
)

const (
	defaultOutboxInterval = time.Minute
	defaultMaxAttempts    = 8
	defaultBaseBackoff    = 30 * time.Second
	defaultBatchSize      = 20
	defaultLease          = 2 * time.Minute
	maxBackoff            = 6 * time.Hour
)

// OutboxPolicy controls redelivery of pending tickets.
type OutboxPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	BatchSize   int
	// Lease is how long a ticket is held by the caller delivering it. It
	// must outlast a submission.
	Lease time.Duration
}

func (p OutboxPolicy) withDefaults() OutboxPolicy {
	if p.Interval <= 0 {
		p.Interval = defaultOutboxInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultBaseBackoff
	}
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.Lease <= 0 {
		p.Lease = defaultLease
	}
	return p
}

// backoff returns the wait after the given number of failed attempts:
// base, 2*base, 4*base, ... capped at maxBackoff.
func (p OutboxPolicy) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// PendingSource lists tickets due for another delivery attempt.
type PendingSource interface {
	DuePendingTickets(ctx context.Context, now time.Time, limit int) ([]*domain.Ticket, error)
}

// StartOutboxWorker runs a background goroutine that periodically retries
// pending tickets until ctx is cancelled.
func StartOutboxWorker(ctx context.Context, client *Client, source PendingSource) {
	interval := client.outbox.Interval
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		client.logger.Info("Outbox worker started", "interval", interval, "max_attempts", client.outbox.MaxAttempts)

		for {
			select {
			case <-ticker.C:
				client.FlushOutbox(ctx, source)
			case <-ctx.Done():
				client.logger.Info("Outbox worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// FlushOutbox makes one delivery attempt for every due ticket it can claim
// and returns how many were tried.
func (c *Client) FlushOutbox(ctx context.Context, source PendingSource) int {
	if !c.Enabled() {
		return 0
	}

	now := c.now()
	due, err := source.DuePendingTickets(ctx, now, c.outbox.BatchSize)
	if err != nil {
		c.logger.Error("Outbox worker failed to list pending tickets", "error", err)
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	c.logger.Info("Outbox worker retrying tickets", "count", len(due))
	tried := 0
	for _, ticket := range due {
		if ctx.Err() != nil {
			break
		}
		leaseUntil := now.Add(c.outbox.Lease)
		claimed, err := c.store.ClaimTicket(ctx, ticket.ID, now, leaseUntil)
		if err != nil {
			c.logger.Error("Outbox worker failed to claim ticket", "ticket_id", ticket.ID, "error", err)
			continue
		}
		if !claimed {
			c.logger.Debug("Ticket claimed elsewhere", "ticket_id", ticket.ID)
			continue
		}
		ticket.NextAttemptAt = leaseUntil
		c.Deliver(ctx, ticket)
		tried++
	}
	return tried
}
