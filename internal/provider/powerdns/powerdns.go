// Package powerdns writes host records straight into a PowerDNS database.
package powerdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/stackdio/stackd/internal/provider"
)

// DB is the part of *pgxpool.Pool the backend uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Backend implements provider.DNS for one zone.
type Backend struct {
	db   DB
	zone string
	ttl  int
}

var _ provider.DNS = (*Backend)(nil)

// New creates a backend writing into zone. The zone must exist in the
// domains table.
func New(db DB, zone string, ttl int) *Backend {
	if ttl <= 0 {
		ttl = 300
	}
	return &Backend{db: db, zone: strings.TrimSuffix(zone, "."), ttl: ttl}
}

func (b *Backend) Zone() string { return b.zone }

func recordType(target string) string {
	ip := net.ParseIP(target)
	switch {
	case ip == nil:
		return "CNAME"
	case ip.To4() != nil:
		return "A"
	default:
		return "AAAA"
	}
}

func (b *Backend) domainID(ctx context.Context, tx pgx.Tx) (int, error) {
	var id int
	err := tx.QueryRow(ctx, `SELECT id FROM domains WHERE name = $1`, b.zone).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("powerdns zone %s does not exist", b.zone)
	}
	if err != nil {
		return 0, fmt.Errorf("get dns zone id by name: %w", err)
	}
	return id, nil
}

// Register replaces the address records of every name in one transaction.
func (b *Backend) Register(ctx context.Context, records []provider.Record) error {
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, b.db, func(tx pgx.Tx) error {
		domainID, err := b.domainID(ctx, tx)
		if err != nil {
			return err
		}
		for _, r := range records {
			if _, err := tx.Exec(ctx,
				`DELETE FROM records WHERE domain_id = $1 AND name = $2 AND type IN ('A', 'AAAA', 'CNAME')`,
				domainID, r.Name,
			); err != nil {
				return fmt.Errorf("delete dns record %s: %w", r.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO records (domain_id, name, type, content, ttl, prio) VALUES ($1, $2, $3, $4, $5, $6)`,
				domainID, r.Name, recordType(r.Target), r.Target, b.ttl, nil,
			); err != nil {
				return fmt.Errorf("write dns record %s: %w", r.Name, err)
			}
		}
		return nil
	})
}

// Unregister removes the address records of names in one transaction.
func (b *Backend) Unregister(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, b.db, func(tx pgx.Tx) error {
		domainID, err := b.domainID(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM records WHERE domain_id = $1 AND name = ANY($2) AND type IN ('A', 'AAAA', 'CNAME')`,
			domainID, names,
		); err != nil {
			return fmt.Errorf("delete dns records: %w", err)
		}
		return nil
	})
}
