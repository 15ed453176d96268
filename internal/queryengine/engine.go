// Package queryengine implements the recursive-CTE read paths over the
// relational store: definition lookup, reference search, dependency and
// dependent traversal, and call-chain tracing.
package queryengine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"ckbscip/internal/errors"
	"ckbscip/internal/store"
)

const roleDefinition = 1

// Engine answers queries against an already-built store.
type Engine struct {
	db *store.DB
}

// New wraps db in a query Engine.
func New(db *store.DB) *Engine {
	return &Engine{db: db}
}

// Location is a single symbol occurrence.
type Location struct {
	SymbolName string
	FilePath   string
	Line       int32
	Column     int32
	Kind       string
	Role       int32
}

// FindDefinition finds definition occurrences for a symbol name. exact
// selects an FTS5-anchored match; otherwise symbolName is matched as a
// substring.
func (e *Engine) FindDefinition(ctx context.Context, symbolName string, exact bool) ([]Location, error) {
	if symbolName == "" {
		return nil, errors.New(errors.InvalidInput, "symbolName must not be empty")
	}

	locs, err := e.findDefinitionRaw(ctx, symbolName, exact)
	if err != nil {
		return nil, err
	}
	return filterDefinitionNoise(locs, symbolName), nil
}

func (e *Engine) findDefinitionRaw(ctx context.Context, symbolName string, exact bool) ([]Location, error) {
	if !exact {
		return e.queryLocations(ctx, `
			SELECT s.name, d.relative_path, o.start_line, o.start_char, s.kind, o.role
			FROM symbols s
			JOIN occurrences o ON o.symbol_id = s.id
			JOIN documents d ON o.document_id = d.id
			WHERE s.name LIKE ? AND (o.role & 1) = 1
			ORDER BY d.relative_path, o.start_line
		`, "%"+symbolName+"%")
	}

	if isFullScipSymbol(symbolName) {
		return e.queryLocations(ctx, `
			SELECT s.name, d.relative_path, o.start_line, o.start_char, s.kind, o.role
			FROM symbols s
			JOIN occurrences o ON o.symbol_id = s.id
			JOIN documents d ON o.document_id = d.id
			WHERE s.name = ? AND (o.role & 1) = 1
			ORDER BY d.relative_path, o.start_line
		`, symbolName)
	}

	var ftsPattern, likePattern string
	if strings.Contains(symbolName, "#") {
		base := strings.TrimSuffix(symbolName, "()")
		ftsPattern = fmt.Sprintf(`"/%s"`, escapeFTS5(base))
		likePattern = "%/" + base + "()%"
	} else {
		ftsPattern = fmt.Sprintf(`"/%s#"`, escapeFTS5(symbolName))
		likePattern = "%/" + symbolName + "#"
	}

	return e.queryLocations(ctx, `
		SELECT s.name, d.relative_path, o.start_line, o.start_char, s.kind, o.role
		FROM symbols_fts fts
		JOIN symbols s ON fts.rowid = s.id
		JOIN occurrences o ON o.symbol_id = s.id
		JOIN documents d ON o.document_id = d.id
		WHERE fts.name MATCH ? AND s.name LIKE ? AND (o.role & 1) = 1
		ORDER BY d.relative_path, o.start_line
	`, ftsPattern, likePattern)
}

// filterDefinitionNoise drops parameter-definition noise (any symbol name
// containing "().(") and, for a simple-name query (no "#" or "(" in the
// query itself), keeps only class definitions when at least one is present
// - a method or attribute sharing a class's simple name is almost never
// what the caller meant.
func filterDefinitionNoise(locs []Location, queriedName string) []Location {
	filtered := locs[:0:0]
	for _, l := range locs {
		if strings.Contains(l.SymbolName, "().(") {
			continue
		}
		filtered = append(filtered, l)
	}

	if strings.ContainsAny(queriedName, "#(") {
		return filtered
	}

	hasClass := false
	for _, l := range filtered {
		if strings.HasSuffix(l.SymbolName, "#") {
			hasClass = true
			break
		}
	}
	if !hasClass {
		return filtered
	}

	classOnly := filtered[:0:0]
	for _, l := range filtered {
		if strings.HasSuffix(l.SymbolName, "#") {
			classOnly = append(classOnly, l)
		}
	}
	return classOnly
}

// FindReferences finds non-definition occurrences of a symbol, optionally
// filtered to a single role bit (e.g. ReadAccess-only for "calls").
// roleFilter of 0 means no filter.
func (e *Engine) FindReferences(ctx context.Context, symbolName string, limit int, roleFilter int32, exact bool) ([]Location, error) {
	if symbolName == "" {
		return nil, errors.New(errors.InvalidInput, "symbolName must not be empty")
	}

	where := "(o.role & 1) = 0"
	if roleFilter != 0 {
		where += " AND (o.role & ?) != 0"
	}

	var query string
	var args []interface{}
	if exact {
		ftsPattern := fmt.Sprintf(`"%s#" OR "%s()" OR "%s."`, escapeFTS5(symbolName), escapeFTS5(symbolName), escapeFTS5(symbolName))
		args = []interface{}{ftsPattern}
		if roleFilter != 0 {
			args = append(args, roleFilter)
		}
		query = fmt.Sprintf(`
			SELECT s.name, d.relative_path, o.start_line, o.start_char, s.kind, o.role
			FROM symbols_fts fts
			JOIN symbols s ON fts.rowid = s.id
			JOIN occurrences o ON o.symbol_id = s.id
			JOIN documents d ON o.document_id = d.id
			WHERE fts.name MATCH ? AND %s
			ORDER BY d.relative_path, o.start_line
		`, where)
	} else {
		args = []interface{}{"%" + symbolName + "%"}
		if roleFilter != 0 {
			args = append(args, roleFilter)
		}
		query = fmt.Sprintf(`
			SELECT s.name, d.relative_path, o.start_line, o.start_char, s.kind, o.role
			FROM symbols s
			JOIN occurrences o ON o.symbol_id = s.id
			JOIN documents d ON o.document_id = d.id
			WHERE s.name LIKE ? AND %s
			ORDER BY d.relative_path, o.start_line
		`, where)
	}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return e.queryLocations(ctx, query, args...)
}

// Dependency is a single transitive dependency/dependent edge.
type Dependency struct {
	SymbolName   string
	FilePath     string
	Line         int32
	Column       int32
	Kind         string
	Depth        int
	Relationship string
}

// GetDependencies returns everything symbolID (or the nested scope it
// names, if it's a class/namespace prefix) transitively references, up to
// depth hops. hybridMode selects symbol_references over call_graph; both
// tables carry edges of every relationship kind.
func (e *Engine) GetDependencies(ctx context.Context, symbolID int64, depth int, hybridMode bool) ([]Dependency, error) {
	if depth < 1 || depth > 10 {
		return nil, errors.New(errors.InvalidInput, "depth must be between 1 and 10")
	}
	if hybridMode {
		return e.hybridTraverse(ctx, symbolID, depth, "from_symbol_id", "to_symbol_id")
	}
	return e.callGraphTraverse(ctx, symbolID, depth, "caller_symbol_id", "callee_symbol_id")
}

// GetDependents returns everything that transitively references symbolID,
// up to depth hops.
func (e *Engine) GetDependents(ctx context.Context, symbolID int64, depth int, hybridMode bool) ([]Dependency, error) {
	if depth < 1 || depth > 10 {
		return nil, errors.New(errors.InvalidInput, "depth must be between 1 and 10")
	}
	if hybridMode {
		return e.hybridTraverse(ctx, symbolID, depth, "to_symbol_id", "from_symbol_id")
	}
	return e.callGraphTraverse(ctx, symbolID, depth, "callee_symbol_id", "caller_symbol_id")
}

// hybridTraverse implements get_dependencies/get_dependents' "hybrid
// mode": a recursive CTE over symbol_references, with symbolID first
// nested-expanded to cover its class/namespace members (matching any
// symbol whose name is a dotted/hash-qualified extension of it).
func (e *Engine) hybridTraverse(ctx context.Context, symbolID int64, depth int, seedCol, targetCol string) ([]Dependency, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE target_and_nested AS (
			SELECT ? AS symbol_id
			UNION
			SELECT DISTINCT s_nested.id
			FROM symbols s_nested, symbols s_target
			WHERE s_target.id = ?
			AND s_nested.id != ?
			AND (
				(s_target.name LIKE '%%#' OR s_target.name LIKE '%%.') AND s_nested.name LIKE s_target.name || '%%'
				OR
				(s_target.name NOT LIKE '%%#' AND s_target.name NOT LIKE '%%.')
				AND (s_nested.name LIKE s_target.name || '#%%' OR s_nested.name LIKE s_target.name || '.%%')
			)
		),
		transitive_deps(symbol_id, depth, relationship_type) AS (
			SELECT DISTINCT sr.%s, 1, sr.relationship_type
			FROM symbol_references sr
			JOIN target_and_nested tan ON sr.%s = tan.symbol_id

			UNION

			SELECT DISTINCT sr.%s, td.depth + 1, sr.relationship_type
			FROM transitive_deps td
			JOIN symbol_references sr ON sr.%s = td.symbol_id
			WHERE td.depth < ?
		)
		SELECT DISTINCT s.name, d.relative_path, o.start_line, o.start_char, s.kind, td.depth, td.relationship_type
		FROM transitive_deps td
		JOIN symbols s ON td.symbol_id = s.id
		JOIN occurrences o ON o.symbol_id = s.id AND (o.role & ?) = ?
		JOIN documents d ON o.document_id = d.id
		WHERE (s.kind IS NULL OR s.kind NOT IN ('Local', 'Parameter'))
			AND s.name NOT LIKE 'local %%'
		ORDER BY td.depth, s.name
	`, targetCol, seedCol, targetCol, seedCol)

	rows, err := e.db.Conn().QueryContext(ctx, query,
		symbolID, symbolID, symbolID, depth, roleDefinition, roleDefinition)
	if err != nil {
		return nil, wrapQueryErr(ctx, err)
	}
	defer rows.Close()

	return scanDependencies(rows)
}

// callGraphTraverse is the narrower call_graph-only traversal (edges of
// every relationship kind, Definition-role occurrences).
func (e *Engine) callGraphTraverse(ctx context.Context, symbolID int64, depth int, seedCol, targetCol string) ([]Dependency, error) {
	var query string
	var args []interface{}

	if depth == 1 {
		query = fmt.Sprintf(`
			SELECT DISTINCT s.name, d.relative_path, o.start_line, o.start_char, s.kind, 1, cg.relationship
			FROM call_graph cg
			JOIN symbols s ON cg.%s = s.id
			JOIN occurrences o ON o.symbol_id = s.id AND (o.role & 1) = 1
			JOIN documents d ON o.document_id = d.id
			WHERE cg.%s = ?
				AND (s.kind IS NULL OR s.kind NOT IN ('Local', 'Parameter'))
				AND s.name NOT LIKE 'local %%'
			ORDER BY s.name
		`, targetCol, seedCol)
		args = []interface{}{symbolID}
	} else {
		query = fmt.Sprintf(`
			WITH RECURSIVE transitive_deps(symbol_id, depth, relationship) AS (
				SELECT cg.%s, 1, cg.relationship
				FROM call_graph cg
				WHERE cg.%s = ?

				UNION

				SELECT cg.%s, td.depth + 1, cg.relationship
				FROM transitive_deps td
				JOIN call_graph cg ON td.symbol_id = cg.%s
				WHERE td.depth < ?
			)
			SELECT DISTINCT s.name, d.relative_path, o.start_line, o.start_char, s.kind, td.depth, td.relationship
			FROM transitive_deps td
			JOIN symbols s ON td.symbol_id = s.id
			JOIN occurrences o ON o.symbol_id = s.id AND (o.role & 1) = 1
			JOIN documents d ON o.document_id = d.id
			WHERE (s.kind IS NULL OR s.kind NOT IN ('Local', 'Parameter'))
				AND s.name NOT LIKE 'local %%'
			ORDER BY td.depth, s.name
		`, targetCol, seedCol, targetCol, seedCol)
		args = []interface{}{symbolID, depth}
	}

	rows, err := e.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryErr(ctx, err)
	}
	defer rows.Close()

	return scanDependencies(rows)
}

// ImpactEntry groups a file with the symbols inside it impacted by a
// change to the analyzed symbol.
type ImpactEntry struct {
	FilePath    string
	SymbolCount int
	Symbols     []string
}

// AnalyzeImpact returns every file containing a transitive dependent of
// symbolID, sorted by impacted-symbol count descending.
func (e *Engine) AnalyzeImpact(ctx context.Context, symbolID int64, depth int, hybridMode bool) ([]ImpactEntry, error) {
	dependents, err := e.GetDependents(ctx, symbolID, depth, hybridMode)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0)
	byFile := make(map[string][]string)
	for _, dep := range dependents {
		if _, ok := byFile[dep.FilePath]; !ok {
			order = append(order, dep.FilePath)
		}
		byFile[dep.FilePath] = append(byFile[dep.FilePath], dep.SymbolName)
	}

	entries := make([]ImpactEntry, 0, len(order))
	for _, file := range order {
		seen := make(map[string]bool)
		unique := make([]string, 0, len(byFile[file]))
		for _, name := range byFile[file] {
			if !seen[name] {
				seen[name] = true
				unique = append(unique, name)
			}
		}
		sort.Strings(unique)
		entries = append(entries, ImpactEntry{FilePath: file, SymbolCount: len(unique), Symbols: unique})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].SymbolCount > entries[j].SymbolCount })
	return entries, nil
}

// ChainHop is one path found by TraceCallChain.
type ChainHop struct {
	Path     []string
	Length   int
	HasCycle bool
}

const maxDepthCap = 3

// TraceCallChain performs a bidirectional BFS on symbol_references from
// any of fromSymbolIDs to any of toSymbolIDs: a backward-reachable set is
// computed from the targets first, then a forward search from the sources
// is pruned to that set, so the search only ever explores edges that can
// possibly reach a target. maxDepth is capped at 3 regardless of the
// caller's request, to bound pathological fan-out. ctx's deadline, if any,
// aborts the running query; the caller sees empty results and a Timeout
// error, never partial rows.
func (e *Engine) TraceCallChain(ctx context.Context, fromSymbolIDs, toSymbolIDs []int64, maxDepth, limit int) ([]ChainHop, error) {
	if maxDepth < 1 || maxDepth > 10 {
		return nil, errors.New(errors.InvalidInput, "maxDepth must be between 1 and 10")
	}
	if maxDepth > maxDepthCap {
		maxDepth = maxDepthCap
	}
	if len(fromSymbolIDs) == 0 || len(toSymbolIDs) == 0 {
		return nil, nil
	}

	tx, err := e.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapQueryErr(ctx, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS batch_from_ids (id INTEGER PRIMARY KEY)`); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS batch_to_ids (id INTEGER PRIMARY KEY)`); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_from_ids`); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_to_ids`); err != nil {
		return nil, err
	}

	fromStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO batch_from_ids VALUES (?)`)
	if err != nil {
		return nil, err
	}
	for _, id := range fromSymbolIDs {
		if _, err := fromStmt.ExecContext(ctx, id); err != nil {
			fromStmt.Close()
			return nil, err
		}
	}
	fromStmt.Close()

	toStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO batch_to_ids VALUES (?)`)
	if err != nil {
		return nil, err
	}
	for _, id := range toSymbolIDs {
		if _, err := toStmt.ExecContext(ctx, id); err != nil {
			toStmt.Close()
			return nil, err
		}
	}
	toStmt.Close()

	query := `
		WITH RECURSIVE
		source_symbols(symbol_id) AS (
			SELECT id FROM batch_from_ids
			UNION
			SELECT s.id
			FROM symbols s, symbols s_src
			JOIN batch_from_ids bf ON s_src.id = bf.id
			WHERE s_src.name LIKE '%#'
			  AND s_src.name NOT LIKE '%()%'
			  AND s.name LIKE s_src.name || '%'
			  AND s.name LIKE '%()%'
		),
		target_symbols(symbol_id) AS (
			SELECT id FROM batch_to_ids
			UNION
			SELECT s.id
			FROM symbols s, symbols s_tgt
			JOIN batch_to_ids bt ON s_tgt.id = bt.id
			WHERE s_tgt.name LIKE '%#'
			  AND s_tgt.name NOT LIKE '%()%'
			  AND s.name LIKE s_tgt.name || '%'
			  AND s.name LIKE '%()%'
		),
		backward_reachable(symbol_id, depth) AS (
			SELECT symbol_id, 0 FROM target_symbols
			UNION
			SELECT DISTINCT sr.from_symbol_id, br.depth + 1
			FROM backward_reachable br
			JOIN symbol_references sr ON sr.to_symbol_id = br.symbol_id
			WHERE br.depth < ?
		),
		forward_paths(symbol_id, path_ids, path_symbols, depth, has_cycle) AS (
			SELECT
				ss.symbol_id,
				CAST(ss.symbol_id AS TEXT),
				(SELECT name FROM symbols WHERE id = ss.symbol_id),
				0,
				0
			FROM source_symbols ss

			UNION

			SELECT
				sr.to_symbol_id,
				fp.path_ids || ',' || sr.to_symbol_id,
				fp.path_symbols || '|||' || s.name,
				fp.depth + 1,
				CASE
					WHEN instr(',' || fp.path_ids || ',', ',' || CAST(sr.to_symbol_id AS TEXT) || ',') > 0
					THEN 1 ELSE 0
				END
			FROM forward_paths fp
			JOIN symbol_references sr ON fp.symbol_id = sr.from_symbol_id
			JOIN symbols s ON sr.to_symbol_id = s.id
			WHERE fp.depth < ?
			  AND fp.has_cycle = 0
			  AND sr.to_symbol_id IN (SELECT symbol_id FROM backward_reachable)
		)
		SELECT DISTINCT path_symbols, depth, has_cycle
		FROM forward_paths fp
		WHERE fp.symbol_id IN (SELECT symbol_id FROM target_symbols)
		ORDER BY depth
	`
	args := []interface{}{maxDepth, maxDepth}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryErr(ctx, err)
	}

	var hops []ChainHop
	for rows.Next() {
		var pathSymbols string
		var length int
		var hasCycle int
		if err := rows.Scan(&pathSymbols, &length, &hasCycle); err != nil {
			rows.Close()
			return nil, err
		}
		hops = append(hops, ChainHop{
			Path:     strings.Split(pathSymbols, "|||"),
			Length:   length,
			HasCycle: hasCycle != 0,
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrapQueryErr(ctx, err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_from_ids`); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_to_ids`); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return hops, nil
}

func wrapQueryErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(errors.Timeout, "query exceeded its deadline", ctx.Err())
	}
	return errors.Wrap(errors.StorageError, "query failed", err)
}

func (e *Engine) queryLocations(ctx context.Context, query string, args ...interface{}) ([]Location, error) {
	rows, err := e.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryErr(ctx, err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var loc Location
		var kind sql.NullString
		if err := rows.Scan(&loc.SymbolName, &loc.FilePath, &loc.Line, &loc.Column, &kind, &loc.Role); err != nil {
			return nil, err
		}
		loc.Kind = kind.String
		out = append(out, loc)
	}
	return out, rows.Err()
}

func scanDependencies(rows *sql.Rows) ([]Dependency, error) {
	var out []Dependency
	for rows.Next() {
		var dep Dependency
		var kind sql.NullString
		if err := rows.Scan(&dep.SymbolName, &dep.FilePath, &dep.Line, &dep.Column, &kind, &dep.Depth, &dep.Relationship); err != nil {
			return nil, err
		}
		dep.Kind = kind.String
		out = append(out, dep)
	}
	return out, rows.Err()
}

func isFullScipSymbol(name string) bool {
	for _, prefix := range []string{"python ", "java ", "typescript ", "go ", "rust ", "cpp ", "csharp ", "ruby "} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func escapeFTS5(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}

