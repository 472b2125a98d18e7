package state

import (
	"context"
	"fmt"
)

// AddFile records one macro file of a run together with its definitions
// in a single transaction. Definition Seq values must be unique per run.
func (s *SQLiteStore) AddFile(ctx context.Context, f FileRecord, defs []DefinitionRecord) (err error) {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (run_id, seq, path, found, loaded, skipped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.Seq, f.Path, f.Found, f.Loaded, f.Skipped, nullString(f.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert file %s: %w", f.Path, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO definitions (run_id, seq, file, line, name, opts, parameterized, body, level)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare definition insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range defs {
		if _, err = stmt.ExecContext(ctx,
			f.RunID, d.Seq, f.Path, d.Line, d.Name, d.Opts, d.Parameterized, d.Body, d.Level,
		); err != nil {
			return fmt.Errorf("failed to insert definition %s: %w", d.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file %s: %w", f.Path, err)
	}
	return nil
}

// Files returns the macro path entries of a run in path order.
func (s *SQLiteStore) Files(ctx context.Context, runID string) ([]FileRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, path, found, loaded, skipped, COALESCE(error, '')
		 FROM files WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.RunID, &f.Seq, &f.Path, &f.Found, &f.Loaded, &f.Skipped, &f.Error); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

const definitionColumns = `run_id, seq, file, line, name, opts, parameterized, body, level`

// Definitions returns every definition of a run in load order.
func (s *SQLiteStore) Definitions(ctx context.Context, runID string) ([]DefinitionRecord, error) {
	return s.queryDefinitions(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE run_id = ? ORDER BY seq`, runID)
}

// FindDefinitions returns the definitions of name in a run, the one that
// wins first.
func (s *SQLiteStore) FindDefinitions(ctx context.Context, runID, name string) ([]DefinitionRecord, error) {
	return s.queryDefinitions(ctx,
		`SELECT `+definitionColumns+` FROM definitions
		 WHERE run_id = ? AND name = ? ORDER BY seq DESC`, runID, name)
}

func (s *SQLiteStore) queryDefinitions(ctx context.Context, query string, args ...any) ([]DefinitionRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []DefinitionRecord
	for rows.Next() {
		var d DefinitionRecord
		if err := rows.Scan(&d.RunID, &d.Seq, &d.File, &d.Line, &d.Name, &d.Opts, &d.Parameterized, &d.Body, &d.Level); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}
