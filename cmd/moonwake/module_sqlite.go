// Copyright 2026 The moonwake Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"sync"

	jsonv2 "github.com/go-json-experiment/json"
	"moonwake.dev/lua"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// sqliteState tracks the pools scripts open so shutdown can close the
// ones a script leaked.
type sqliteState struct {
	mu    sync.Mutex
	pools []*sqlitex.Pool
}

func (st *sqliteState) add(pool *sqlitex.Pool) {
	st.mu.Lock()
	st.pools = append(st.pools, pool)
	st.mu.Unlock()
}

func (st *sqliteState) remove(pool *sqlitex.Pool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, p := range st.pools {
		if p == pool {
			st.pools = append(st.pools[:i], st.pools[i+1:]...)
			return
		}
	}
}

func (st *sqliteState) close() error {
	st.mu.Lock()
	pools := st.pools
	st.pools = nil
	st.mu.Unlock()
	var first error
	for _, p := range pools {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// registerSQLiteModule publishes the sqlite module:
//
//	local db = sqlite.open([path])
//	db.exec(sql, ...)   -- run a statement, returns rows changed
//	db.query(sql, ...)  -- run a query, returns rows as JSON text
//	db.close()
//
// Statements run on pool connections off the interpreter goroutine;
// exec and query suspend the calling task. query returns JSON so its
// result crosses the asynchronous boundary as a scalar; decode it with
// json.decode.
func (in *interp) registerSQLiteModule() error {
	in.sqlite = new(sqliteState)

	open, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		path := in.g.Database
		if len(args) > 0 {
			var err error
			if path, err = stringArg(args, 0, "database path"); err != nil {
				return nil, err
			}
		}
		pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{PoolSize: 4})
		if err != nil {
			return nil, fmt.Errorf("sqlite.open: %v", err)
		}
		in.sqlite.add(pool)
		db, err := in.newDatabaseHandle(pool)
		if err != nil {
			in.sqlite.remove(pool)
			pool.Close()
			return nil, err
		}
		return []lua.Value{db}, nil
	})
	if err != nil {
		return err
	}

	return in.registerModule("sqlite", map[string]lua.Value{"open": open})
}

// newDatabaseHandle builds the table scripts use to talk to one pool.
func (in *interp) newDatabaseHandle(pool *sqlitex.Pool) (*lua.Ref, error) {
	exec, err := in.asyncFunction(func(ctx context.Context, args []lua.Value) ([]lua.Value, error) {
		sql, err := stringArg(args, 0, "sql")
		if err != nil {
			return nil, err
		}
		params, err := statementParams(args[1:])
		if err != nil {
			return nil, err
		}
		n, err := in.execStatement(ctx, pool, sql, params)
		if err != nil {
			return nil, err
		}
		return []lua.Value{n}, nil
	})
	if err != nil {
		return nil, err
	}
	query, err := in.asyncFunction(func(ctx context.Context, args []lua.Value) ([]lua.Value, error) {
		sql, err := stringArg(args, 0, "sql")
		if err != nil {
			return nil, err
		}
		params, err := statementParams(args[1:])
		if err != nil {
			return nil, err
		}
		rows, err := in.queryStatement(ctx, pool, sql, params)
		if err != nil {
			return nil, err
		}
		return []lua.Value{rows}, nil
	})
	if err != nil {
		return nil, err
	}
	closeFn, err := in.function(func(rt *lua.Runtime, args []lua.Value) ([]lua.Value, error) {
		in.sqlite.remove(pool)
		if err := pool.Close(); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	db, err := in.rt.NewTable()
	if err != nil {
		return nil, err
	}
	for name, fn := range map[string]lua.Value{"exec": exec, "query": query, "close": closeFn} {
		if err := in.rt.SetField(db, name, fn); err != nil {
			db.Release()
			return nil, err
		}
		releaseValue(fn)
	}
	return db, nil
}

// execStatement runs one statement on a pool connection, returning the
// number of rows changed.
func (in *interp) execStatement(ctx context.Context, pool *sqlitex.Pool, sql string, params []any) (int64, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer pool.Put(conn)
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{Args: params})
	if err != nil {
		return 0, err
	}
	return int64(conn.Changes()), nil
}

// queryStatement runs one query on a pool connection and renders the
// rows as a JSON array of objects.
func (in *interp) queryStatement(ctx context.Context, pool *sqlitex.Pool, sql string, params []any) (string, error) {
	conn, err := pool.Take(ctx)
	if err != nil {
		return "", err
	}
	defer pool.Put(conn)
	var rows []map[string]any
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: params,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row := make(map[string]any, stmt.ColumnCount())
			for i := 0; i < stmt.ColumnCount(); i++ {
				name := stmt.ColumnName(i)
				switch stmt.ColumnType(i) {
				case sqlite.TypeInteger:
					row[name] = stmt.ColumnInt64(i)
				case sqlite.TypeFloat:
					row[name] = stmt.ColumnFloat(i)
				case sqlite.TypeText:
					row[name] = stmt.ColumnText(i)
				case sqlite.TypeNull:
					row[name] = nil
				default:
					row[name] = stmt.ColumnText(i)
				}
			}
			rows = append(rows, row)
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	if rows == nil {
		return "[]", nil
	}
	data, err := jsonv2.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// statementParams converts script arguments after the SQL text into
// SQLite bind parameters.
func statementParams(args []lua.Value) ([]any, error) {
	params := make([]any, 0, len(args))
	for i, a := range args {
		switch a := a.(type) {
		case nil, bool, int64, float64, string:
			params = append(params, a)
		default:
			return nil, fmt.Errorf("parameter %d has unsupported type %T", i+1, a)
		}
	}
	return params, nil
}
