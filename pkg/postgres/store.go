package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jakechorley/volunteer-hub/pkg/db"
)

// DB implements db.Store directly against Postgres

func (d *DB) FetchOne(ctx context.Context, collection string, filter db.Filter, dest any) error {
	sql, args := selectQuery(collection, filter, nil, 2)
	rows, err := d.queryJSON(ctx, db.OpFetchOne, collection, sql, args...)
	if err != nil {
		return err
	}

	switch len(rows) {
	case 0:
		return db.NotFound(string(db.OpFetchOne), collection)
	case 1:
		return db.DecodeJSON(rows[0], dest)
	default:
		return db.MultipleRows(string(db.OpFetchOne), collection)
	}
}

func (d *DB) FetchMany(ctx context.Context, collection string, filter db.Filter, order []db.Order, dest any) error {
	sql, args := selectQuery(collection, filter, order, 0)
	rows, err := d.queryJSON(ctx, db.OpFetchMany, collection, sql, args...)
	if err != nil {
		return err
	}
	return db.DecodeJSON(joinArray(rows), dest)
}

func (d *DB) Insert(ctx context.Context, collection string, row any, dest any) error {
	rec, err := db.ToRecord(row)
	if err != nil {
		return &db.Error{Op: string(db.OpInsert), Collection: collection, Err: err}
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return &db.Error{Op: string(db.OpInsert), Collection: collection, Err: err}
	}

	sql := insertQuery(collection, writableColumns(rec, true), false)
	rows, err := d.queryJSON(ctx, db.OpInsert, collection, sql, string(payload))
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return &db.Error{Op: string(db.OpInsert), Collection: collection, Message: fmt.Sprintf("insert returned %d rows", len(rows))}
	}
	return db.DecodeJSON(rows[0], dest)
}

func (d *DB) InsertMany(ctx context.Context, collection string, rows any, dest any) error {
	recs, err := db.ToRecords(rows)
	if err != nil {
		return &db.Error{Op: string(db.OpInsertMany), Collection: collection, Err: err}
	}
	if len(recs) == 0 {
		return db.Decode([]db.Record{}, dest)
	}
	payload, err := json.Marshal(recs)
	if err != nil {
		return &db.Error{Op: string(db.OpInsertMany), Collection: collection, Err: err}
	}

	// One statement, so the rows go in together or not at all
	sql := insertQuery(collection, db.Columns(recs...), true)
	created, err := d.queryJSON(ctx, db.OpInsertMany, collection, sql, string(payload))
	if err != nil {
		return err
	}
	return db.DecodeJSON(joinArray(created), dest)
}

func (d *DB) Update(ctx context.Context, collection string, filter db.Filter, patch any, dest any) error {
	if len(filter) == 0 {
		return &db.Error{Op: string(db.OpUpdate), Collection: collection, Err: db.ErrUnfiltered}
	}
	rec, err := db.ToRecord(patch)
	if err != nil {
		return &db.Error{Op: string(db.OpUpdate), Collection: collection, Err: err}
	}
	cols := writableColumns(rec, false)
	if len(cols) == 0 {
		// Nothing to set, return the row as stored
		return d.FetchOne(ctx, collection, filter, dest)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return &db.Error{Op: string(db.OpUpdate), Collection: collection, Err: err}
	}

	sql, args := updateQuery(collection, cols, filter)
	args = append([]any{string(payload)}, args...)

	var updated []byte
	err = pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		changed, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
		if err != nil {
			return err
		}
		// Returning an error rolls the update back
		switch len(changed) {
		case 0:
			return db.NotFound(string(db.OpUpdate), collection)
		case 1:
			updated = changed[0]
			return nil
		default:
			return db.MultipleRows(string(db.OpUpdate), collection)
		}
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrMultipleRows) {
			return err
		}
		return remoteError(db.OpUpdate, collection, err)
	}
	return db.DecodeJSON(updated, dest)
}

func (d *DB) Delete(ctx context.Context, collection string, filter db.Filter) (int, error) {
	if len(filter) == 0 {
		return 0, &db.Error{Op: string(db.OpDelete), Collection: collection, Err: db.ErrUnfiltered}
	}

	sql, args := deleteQuery(collection, filter)
	tag, err := d.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, remoteError(db.OpDelete, collection, err)
	}
	return int(tag.RowsAffected()), nil
}

func (d *DB) queryJSON(ctx context.Context, op db.Op, collection, sql string, args ...any) ([][]byte, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, remoteError(op, collection, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, remoteError(op, collection, err)
	}
	return out, nil
}

func joinArray(rows [][]byte) []byte {
	return append(append([]byte("["), bytes.Join(rows, []byte(","))...), ']')
}

// remoteError wraps a driver error, keeping the SQLSTATE so callers can spot conflicts
func remoteError(op db.Op, collection string, err error) error {
	remoteErr := &db.Error{Op: string(op), Collection: collection, Err: err}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		remoteErr.Code = pgErr.Code
		remoteErr.Message = pgErr.Message
		if pgErr.Detail != "" {
			remoteErr.Message += ": " + pgErr.Detail
		}
	}
	return remoteErr
}
