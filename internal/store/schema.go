package store

import "database/sql"

// createSchema creates every table the build needs, in one pass. Indexes
// are created separately, after bulk inserts, by createIndexes.
func createSchema(tx *sql.Tx) error {
	for _, fn := range []func(*sql.Tx) error{
		createSymbolsTable,
		createDocumentsTable,
		createOccurrencesTable,
		createCallGraphTable,
		createSymbolReferencesTable,
		createSymbolsFTSTable,
	} {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func createSymbolsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS symbols (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			display_name TEXT,
			kind TEXT,
			signature TEXT,
			documentation TEXT,
			package_id TEXT,
			enclosing_symbol_id INTEGER
		)
	`)
	return err
}

func createDocumentsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY,
			relative_path TEXT NOT NULL,
			language TEXT
		)
	`)
	return err
}

func createOccurrencesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS occurrences (
			id INTEGER PRIMARY KEY,
			symbol_id INTEGER NOT NULL,
			document_id INTEGER NOT NULL,
			start_line INTEGER NOT NULL,
			start_char INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			end_char INTEGER NOT NULL,
			role INTEGER,
			enclosing_range_start_line INTEGER,
			enclosing_range_start_char INTEGER,
			enclosing_range_end_line INTEGER,
			enclosing_range_end_char INTEGER,
			FOREIGN KEY (symbol_id) REFERENCES symbols(id),
			FOREIGN KEY (document_id) REFERENCES documents(id)
		)
	`)
	return err
}

func createCallGraphTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS call_graph (
			id INTEGER PRIMARY KEY,
			caller_symbol_id INTEGER NOT NULL,
			callee_symbol_id INTEGER NOT NULL,
			occurrence_id INTEGER,
			relationship TEXT,
			caller_display_name TEXT,
			callee_display_name TEXT,
			FOREIGN KEY (caller_symbol_id) REFERENCES symbols(id),
			FOREIGN KEY (callee_symbol_id) REFERENCES symbols(id),
			FOREIGN KEY (occurrence_id) REFERENCES occurrences(id)
		)
	`)
	return err
}

func createSymbolReferencesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS symbol_references (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_symbol_id INTEGER NOT NULL,
			to_symbol_id INTEGER NOT NULL,
			relationship_type TEXT NOT NULL,
			occurrence_id INTEGER NOT NULL,
			FOREIGN KEY (from_symbol_id) REFERENCES symbols(id),
			FOREIGN KEY (to_symbol_id) REFERENCES symbols(id),
			FOREIGN KEY (occurrence_id) REFERENCES occurrences(id)
		)
	`)
	return err
}

// createSymbolsFTSTable creates an external-content FTS5 index over
// symbols. There is no incremental-update path for this store (every build
// is a full rebuild), so the index is populated with a single 'rebuild'
// command after bulk load instead of being trigger-synced.
func createSymbolsFTSTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
			name,
			display_name,
			documentation,
			content=symbols,
			content_rowid=id
		)
	`)
	return err
}

// createIndexes creates every index used by the query engine. Deferred
// until after bulk inserts so the build's insert phase is not slowed by
// index maintenance.
func createIndexes(tx *sql.Tx) error {
	statements := []string{
		"CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_display_name ON symbols(display_name)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_enclosing ON symbols(enclosing_symbol_id)",
		"CREATE INDEX IF NOT EXISTS idx_occurrences_symbol ON occurrences(symbol_id)",
		"CREATE INDEX IF NOT EXISTS idx_occurrences_document ON occurrences(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_occurrences_role ON occurrences(role)",
		"CREATE INDEX IF NOT EXISTS idx_occurrences_location ON occurrences(start_line, start_char)",
		"CREATE INDEX IF NOT EXISTS idx_call_graph_caller ON call_graph(caller_symbol_id)",
		"CREATE INDEX IF NOT EXISTS idx_call_graph_callee ON call_graph(callee_symbol_id)",
		"CREATE INDEX IF NOT EXISTS idx_call_graph_occurrence ON call_graph(occurrence_id)",
		"CREATE INDEX IF NOT EXISTS idx_symbol_refs_from ON symbol_references(from_symbol_id)",
		"CREATE INDEX IF NOT EXISTS idx_symbol_refs_to ON symbol_references(to_symbol_id)",
		"CREATE INDEX IF NOT EXISTS idx_symbol_refs_type ON symbol_references(relationship_type)",
		"CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(relative_path)",
		"CREATE INDEX IF NOT EXISTS idx_documents_language ON documents(language)",
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
