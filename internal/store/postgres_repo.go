package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepo implements Repo using PostgreSQL.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo creates a new PostgresRepo.
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

const packageColumns = `uid, chain_id, contract, version, schema_uid, signer, recipient, encoded, package_json,
timestamped_at, timestamp_tx, revoked_at, revocation_tx, inserted_at`

func addr(a common.Address) string { return strings.ToLower(a.Hex()) }

func (r *PostgresRepo) InsertPackage(ctx context.Context, rec *Record) error {
	pkgJSON, err := json.Marshal(rec.Package)
	if err != nil {
		return fmt.Errorf("marshal package: %w", err)
	}

	const q = `INSERT INTO packages (uid, chain_id, contract, version, schema_uid, signer, recipient, encoded, package_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING inserted_at`

	err = r.pool.QueryRow(ctx, q,
		rec.UID.Hex(),
		int64(rec.ChainID),
		addr(rec.Contract),
		int32(rec.Version),
		rec.Schema.Hex(),
		addr(rec.Signer),
		addr(rec.Recipient),
		rec.Encoded,
		pkgJSON,
	).Scan(&rec.InsertedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetPackage(ctx context.Context, uid common.Hash) (*Record, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE uid = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, uid.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepo) ListPackages(ctx context.Context, filter Filter, limit int, cursor *Cursor) ([]*Record, *Cursor, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Signer != nil {
		where = append(where, "signer = "+arg(addr(*filter.Signer)))
	}
	if filter.Schema != nil {
		where = append(where, "schema_uid = "+arg(filter.Schema.Hex()))
	}
	if filter.Recipient != nil {
		where = append(where, "recipient = "+arg(addr(*filter.Recipient)))
	}
	if filter.ChainID != 0 {
		where = append(where, "chain_id = "+arg(int64(filter.ChainID)))
	}
	if cursor != nil {
		cursorTime, parseErr := time.Parse(time.RFC3339Nano, cursor.InsertedAt)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("parse cursor time: %w", parseErr)
		}
		where = append(where, fmt.Sprintf("(inserted_at, uid) < (%s, %s)", arg(cursorTime), arg(strings.ToLower(cursor.UID))))
	}

	q := `SELECT ` + packageColumns + ` FROM packages`
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, "\n  AND ")
	}
	q += "\nORDER BY inserted_at DESC, uid DESC\nLIMIT " + arg(limit+1)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows: %w", err)
	}

	var next *Cursor
	if len(items) > limit {
		next = cursorFor(items[limit-1])
		items = items[:limit]
	}
	return items, next, nil
}

func (r *PostgresRepo) MarkTimestamped(ctx context.Context, chainID uint64, uid common.Hash, at time.Time, tx common.Hash) error {
	const q = `UPDATE packages SET timestamped_at = $3, timestamp_tx = $4
WHERE chain_id = $1 AND uid = $2 AND timestamped_at IS NULL`
	return r.update(ctx, q, int64(chainID), uid.Hex(), at, tx.Hex())
}

func (r *PostgresRepo) MarkRevoked(ctx context.Context, chainID uint64, revoker common.Address, uid common.Hash, at time.Time, tx common.Hash) error {
	const q = `UPDATE packages SET revoked_at = $4, revocation_tx = $5
WHERE chain_id = $1 AND signer = $2 AND uid = $3 AND revoked_at IS NULL`
	return r.update(ctx, q, int64(chainID), addr(revoker), uid.Hex(), at, tx.Hex())
}

func (r *PostgresRepo) Withdraw(ctx context.Context, uid common.Hash) error {
	return r.update(ctx, `DELETE FROM packages WHERE uid = $1`, uid.Hex())
}

func (r *PostgresRepo) Checkpoint(ctx context.Context, chainID uint64) (uint64, bool, error) {
	var block int64
	err := r.pool.QueryRow(ctx, `SELECT block_number FROM watcher_checkpoints WHERE chain_id = $1`, int64(chainID)).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query checkpoint: %w", err)
	}
	return uint64(block), true, nil
}

func (r *PostgresRepo) SetCheckpoint(ctx context.Context, chainID uint64, block uint64) error {
	const q = `INSERT INTO watcher_checkpoints (chain_id, block_number) VALUES ($1, $2)
ON CONFLICT (chain_id) DO UPDATE SET block_number = EXCLUDED.block_number, updated_at = now()`
	if _, err := r.pool.Exec(ctx, q, int64(chainID), int64(block)); err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

func (r *PostgresRepo) update(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec                       Record
		uid, contract, schema     string
		signer, recipient         string
		chainID                   int64
		version                   int32
		pkgJSON                   []byte
		timestampTx, revocationTx *string
		timestampedAt, revokedAt  *time.Time
	)
	err := row.Scan(&uid, &chainID, &contract, &version, &schema, &signer, &recipient, &rec.Encoded, &pkgJSON,
		&timestampedAt, &timestampTx, &revokedAt, &revocationTx, &rec.InsertedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pkgJSON, &rec.Package); err != nil {
		return nil, fmt.Errorf("unmarshal package: %w", err)
	}

	rec.UID = common.HexToHash(uid)
	rec.ChainID = uint64(chainID)
	rec.Contract = common.HexToAddress(contract)
	rec.Version = uint16(version)
	rec.Schema = common.HexToHash(schema)
	rec.Signer = common.HexToAddress(signer)
	rec.Recipient = common.HexToAddress(recipient)
	rec.TimestampedAt = timestampedAt
	rec.RevokedAt = revokedAt
	if timestampTx != nil {
		rec.TimestampTx = *timestampTx
	}
	if revocationTx != nil {
		rec.RevocationTx = *revocationTx
	}
	return &rec, nil
}
