package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/EndpointRegistry/internal/registry"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/jackc/pgx/v5"
)

// EndpointStore is the Postgres-backed registration store.
type EndpointStore struct {
	db *PostgresClient
}

func NewEndpointStore(db *PostgresClient) *EndpointStore {
	return &EndpointStore{db: db}
}

type whereBuilder struct {
	clauses []string
	args    []any
}

// add appends a condition; every "?" in cond refers to arg.
func (b *whereBuilder) add(cond string, arg any) {
	b.args = append(b.args, arg)
	b.clauses = append(b.clauses, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(b.args))))
}

// buildFindQuery translates filter into SQL. Every set field becomes an equality predicate.
func buildFindQuery(filter types.QueryFilter) (string, []any) {
	var b whereBuilder

	if filter.EndpointID != nil {
		b.add("id = ?", *filter.EndpointID)
	}
	if filter.URL != nil {
		b.add("(url = ? OR ? = ANY(alternative_urls))", *filter.URL)
	}
	if filter.Certificate != nil {
		// A NULL certificate matches an empty filter, as nil and empty are equal in memory.
		b.add("COALESCE(certificate, ''::bytea) = ?", append([]byte{}, filter.Certificate...))
	}
	if filter.SecurityMode != nil {
		b.add("security_mode = ?", string(*filter.SecurityMode))
	}
	if filter.SecurityPolicy != nil {
		b.add("security_policy = ?", *filter.SecurityPolicy)
	}
	if filter.Activated != nil {
		b.add("activated = ?", *filter.Activated)
	}
	if filter.Connected != nil {
		b.add("connected = ?", *filter.Connected)
	}
	if filter.State != nil {
		b.add("state = ?", string(*filter.State))
	}
	if filter.DiscovererID != nil {
		b.add("discoverer_id = ?", *filter.DiscovererID)
	}
	if filter.ApplicationID != nil {
		b.add("application_id = ?", *filter.ApplicationID)
	}
	if filter.SupervisorID != nil {
		b.add("supervisor_id = ?", *filter.SupervisorID)
	}
	if filter.SiteOrGatewayID != nil {
		b.add("site_or_gateway_id = ?", *filter.SiteOrGatewayID)
	}
	if !filter.IncludeNotSeenSince {
		b.clauses = append(b.clauses, "not_seen_since IS NULL")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(endpointColumns)
	sb.WriteString(" FROM endpoints")
	if len(b.clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.clauses, " AND "))
	}
	sb.WriteString(" ORDER BY id")
	return sb.String(), b.args
}

func unavailable(op string, err error) error {
	return types.NewError(types.KindStoreUnavailable, op, err)
}

func (s *EndpointStore) Find(ctx context.Context, filter types.QueryFilter) ([]types.EndpointRecord, error) {
	query, args := buildFindQuery(filter)

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("postgres find", fmt.Errorf("failed to query endpoints: %w", err))
	}
	defer rows.Close()

	records := make([]types.EndpointRecord, 0)
	for rows.Next() {
		var row endpointRow
		if err := rows.Scan(row.scanTargets()...); err != nil {
			return nil, unavailable("postgres find", fmt.Errorf("failed to scan endpoint: %w", err))
		}
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres find", err)
	}
	return records, nil
}

func (s *EndpointStore) Get(ctx context.Context, id string) (types.EndpointRecord, error) {
	var row endpointRow
	err := s.db.pool.QueryRow(ctx,
		"SELECT "+endpointColumns+" FROM endpoints WHERE id = $1", id,
	).Scan(row.scanTargets()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.EndpointRecord{}, types.Errorf(types.KindEndpointNotFound, "postgres get",
			"endpoint %s not registered", id)
	}
	if err != nil {
		return types.EndpointRecord{}, unavailable("postgres get", err)
	}
	return row.toRecord()
}

func (s *EndpointStore) Upsert(ctx context.Context, rec types.EndpointRecord) error {
	rec = rec.Clone()
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return err
	}
	row, err := rowFromRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.pool.Exec(ctx, `
		INSERT INTO endpoints (`+endpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			alternative_urls = EXCLUDED.alternative_urls,
			credential = EXCLUDED.credential,
			security_mode = EXCLUDED.security_mode,
			security_policy = EXCLUDED.security_policy,
			certificate = EXCLUDED.certificate,
			state = EXCLUDED.state,
			activated = EXCLUDED.activated,
			connected = EXCLUDED.connected,
			discoverer_id = EXCLUDED.discoverer_id,
			application_id = EXCLUDED.application_id,
			supervisor_id = EXCLUDED.supervisor_id,
			site_or_gateway_id = EXCLUDED.site_or_gateway_id,
			not_seen_since = EXCLUDED.not_seen_since,
			updated_at = now()
	`, row.ID, row.URL, row.AlternativeURLs, row.Credential, row.SecurityMode, row.SecurityPolicy,
		row.Certificate, row.State, row.Activated, row.Connected, row.DiscovererID, row.ApplicationID,
		row.SupervisorID, row.SiteOrGatewayID, row.NotSeenSince)
	if err != nil {
		return unavailable("postgres upsert", fmt.Errorf("failed to upsert endpoint %s: %w", rec.ID, err))
	}
	return nil
}

func (s *EndpointStore) update(ctx context.Context, op, id, set string, args ...any) error {
	result, err := s.db.pool.Exec(ctx,
		"UPDATE endpoints SET "+set+", updated_at = now() WHERE id = $1",
		append([]any{id}, args...)...)
	if err != nil {
		return unavailable(op, err)
	}
	if result.RowsAffected() == 0 {
		return types.Errorf(types.KindEndpointNotFound, op, "endpoint %s not registered", id)
	}
	return nil
}

// MarkNotSeen soft-deletes an endpoint; its row and history references stay intact.
func (s *EndpointStore) MarkNotSeen(ctx context.Context, id string, since time.Time) error {
	return s.update(ctx, "postgres mark not seen", id, "not_seen_since = $2", since.UTC())
}

func (s *EndpointStore) Revive(ctx context.Context, id string) error {
	return s.update(ctx, "postgres revive", id, "not_seen_since = NULL")
}

func (s *EndpointStore) SetState(ctx context.Context, id string, state types.EndpointState, connected bool) error {
	if _, err := types.ParseEndpointState(string(state)); err != nil {
		return err
	}
	return s.update(ctx, "postgres set state", id, "state = $2, connected = $3", string(state), connected)
}

// Counts returns the number of live endpoints per state.
func (s *EndpointStore) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.pool.Query(ctx,
		"SELECT state, count(*) FROM endpoints WHERE not_seen_since IS NULL GROUP BY state")
	if err != nil {
		return nil, unavailable("postgres counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, unavailable("postgres counts", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

var (
	_ registry.Store     = (*EndpointStore)(nil)
	_ registry.Registrar = (*EndpointStore)(nil)
)
