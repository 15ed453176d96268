// Package facade is the single surface an embedding application calls: it
// converts human-facing symbol names to internal IDs, expands class names
// to their member methods where that is semantically meaningful, and
// packages query-engine results into plain, engine-agnostic records.
package facade

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"ckbscip/internal/errors"
	"ckbscip/internal/queryengine"
	"ckbscip/internal/store"
)

// Facade wraps a query Engine over an already-built store. project is
// stamped into every result so an embedder fanning out over many stores
// can tell which repository a row came from; it is presentation-only and
// never consulted by queries.
type Facade struct {
	db      *store.DB
	engine  *queryengine.Engine
	project string
}

// New builds a Facade over db. project may be empty.
func New(db *store.DB, project string) *Facade {
	return &Facade{db: db, engine: queryengine.New(db), project: project}
}

// hybridMode is always true: the builder always fully populates both
// symbol_references and call_graph, so there is nothing for an
// auto-detection probe to detect, and the facade never exposes the choice
// to callers.
const hybridMode = true

// Location is one occurrence of a symbol.
type Location struct {
	Symbol   string
	Project  string
	FilePath string
	Line     int32
	Column   int32
	Kind     string
}

// FindDefinition resolves name to its definition occurrences.
func (f *Facade) FindDefinition(ctx context.Context, name string, exact bool) ([]Location, error) {
	locs, err := f.engine.FindDefinition(ctx, name, exact)
	if err != nil {
		return nil, err
	}
	return f.toLocations(locs, "definition"), nil
}

// FindReferences resolves name to its non-definition occurrences, up to
// limit results.
func (f *Facade) FindReferences(ctx context.Context, name string, limit int, exact bool) ([]Location, error) {
	locs, err := f.engine.FindReferences(ctx, name, limit, 0, exact)
	if err != nil {
		return nil, err
	}
	return f.toLocations(locs, "reference"), nil
}

// Dependency is one transitive dependency/dependent edge.
type Dependency struct {
	Symbol       string
	Project      string
	FilePath     string
	Line         int32
	Column       int32
	Kind         string
	Depth        int
	Relationship string
}

// GetDependencies resolves name to every matching definition and returns
// the merged set of everything those symbols transitively reference, up
// to depth hops.
func (f *Facade) GetDependencies(ctx context.Context, name string, depth int, exact bool) ([]Dependency, error) {
	ids, err := f.resolveSymbolIDs(ctx, name, exact)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return f.traverseAll(ctx, ids, depth, f.engine.GetDependencies)
}

// GetDependents resolves name to every matching definition and returns
// the merged set of everything that transitively references those
// symbols, up to depth hops.
func (f *Facade) GetDependents(ctx context.Context, name string, depth int, exact bool) ([]Dependency, error) {
	ids, err := f.resolveSymbolIDs(ctx, name, exact)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return f.traverseAll(ctx, ids, depth, f.engine.GetDependents)
}

// traverseAll runs traverse for every resolved symbol ID and merges the
// results, deduplicating identical rows that appear under more than one
// definition.
func (f *Facade) traverseAll(ctx context.Context, ids []int64, depth int, traverse func(context.Context, int64, int, bool) ([]queryengine.Dependency, error)) ([]Dependency, error) {
	type rowKey struct {
		symbol, file, rel string
		line, col         int32
		depth             int
	}

	seen := make(map[rowKey]bool)
	var merged []Dependency
	for _, id := range ids {
		raw, err := traverse(ctx, id, depth, hybridMode)
		if err != nil {
			return nil, err
		}
		for _, d := range f.toDependencies(raw) {
			k := rowKey{d.Symbol, d.FilePath, d.Relationship, d.Line, d.Column, d.Depth}
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, d)
		}
	}
	return merged, nil
}

// ImpactEntry groups one file with the symbols in it impacted by a change
// to the analyzed symbol.
type ImpactEntry struct {
	FilePath    string
	SymbolCount int
	Symbols     []string
}

// AnalyzeImpact resolves name to every matching definition, groups the
// merged transitive-dependent set by file, and sorts by impacted-symbol
// count descending. Per-file symbol sets from different definitions are
// unioned before counting.
func (f *Facade) AnalyzeImpact(ctx context.Context, name string, depth int) ([]ImpactEntry, error) {
	ids, err := f.resolveSymbolIDs(ctx, name, true)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	fileSymbols := make(map[string]map[string]bool)
	var order []string
	for _, id := range ids {
		entries, err := f.engine.AnalyzeImpact(ctx, id, depth, hybridMode)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			set, ok := fileSymbols[e.FilePath]
			if !ok {
				set = make(map[string]bool)
				fileSymbols[e.FilePath] = set
				order = append(order, e.FilePath)
			}
			for _, s := range e.Symbols {
				set[s] = true
			}
		}
	}

	out := make([]ImpactEntry, 0, len(order))
	for _, file := range order {
		symbols := make([]string, 0, len(fileSymbols[file]))
		for s := range fileSymbols[file] {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		out = append(out, ImpactEntry{FilePath: file, SymbolCount: len(symbols), Symbols: symbols})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SymbolCount > out[j].SymbolCount })
	return out, nil
}

// ChainHop is one execution path found between two symbols.
type ChainHop struct {
	Path     []string
	Length   int
	HasCycle bool
}

// TraceCallChain resolves fromName and toName to every matching
// definition (fuzzily, like the other name arguments here), expands each
// resolved symbol to the set of its methods when it names a class, and
// dispatches the whole source/target cross-product to the engine in a
// single batched call. Results are flattened, deduplicated by their full
// path-symbol-name tuple, and truncated to limit.
func (f *Facade) TraceCallChain(ctx context.Context, fromName, toName string, maxDepth, limit int) ([]ChainHop, error) {
	fromResolved, err := f.resolveSymbolIDs(ctx, fromName, false)
	if err != nil {
		return nil, err
	}
	toResolved, err := f.resolveSymbolIDs(ctx, toName, false)
	if err != nil {
		return nil, err
	}
	if len(fromResolved) == 0 || len(toResolved) == 0 {
		return nil, nil
	}

	fromIDs, err := f.expandAll(ctx, fromResolved)
	if err != nil {
		return nil, err
	}
	toIDs, err := f.expandAll(ctx, toResolved)
	if err != nil {
		return nil, err
	}

	hops, err := f.engine.TraceCallChain(ctx, fromIDs, toIDs, maxDepth, 0)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var deduped []ChainHop
	for _, h := range hops {
		key := strings.Join(h.Path, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, ChainHop{Path: h.Path, Length: h.Length, HasCycle: h.HasCycle})
	}

	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Length < deduped[j].Length })

	if limit > 0 && len(deduped) > limit {
		deduped = deduped[:limit]
	}

	return deduped, nil
}

// resolveSymbolIDs resolves name to the IDs of every symbol whose
// definition matches it, reusing FindDefinition's matching rules (FTS
// anchoring, parameter-noise filtering, class-priority) so a name the
// user could look up resolves identically here. A fuzzy name matching
// several definitions yields all of them; callers merge results across
// the set. An empty result means the name is unknown, which queries
// report as empty output, not an error.
func (f *Facade) resolveSymbolIDs(ctx context.Context, name string, exact bool) ([]int64, error) {
	defs, err := f.engine.FindDefinition(ctx, name, exact)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(defs))
	var ids []int64
	for _, d := range defs {
		if seen[d.SymbolName] {
			continue
		}
		seen[d.SymbolName] = true

		var id int64
		switch err := f.db.QueryRow(`SELECT id FROM symbols WHERE name = ?`, d.SymbolName).Scan(&id); {
		case err == sql.ErrNoRows:
			continue
		case err != nil:
			return nil, errors.Wrap(errors.StorageError, "failed to resolve symbol name", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// expandAll applies expandToMethodIDs to every resolved ID and returns
// the deduplicated union.
func (f *Facade) expandAll(ctx context.Context, ids []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(ids))
	var out []int64
	for _, id := range ids {
		expanded, err := f.expandToMethodIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, e := range expanded {
			if seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// expandToMethodIDs returns [id] unless name looks like a class/namespace
// symbol (ends in '#' with no call parentheses), in which case it returns
// every symbol ID that extends it and is itself a method.
func (f *Facade) expandToMethodIDs(ctx context.Context, id int64) ([]int64, error) {
	var name string
	if err := f.db.QueryRow(`SELECT name FROM symbols WHERE id = ?`, id).Scan(&name); err != nil {
		return nil, errors.Wrap(errors.StorageError, "failed to load symbol name", err)
	}

	if !strings.HasSuffix(name, "#") || strings.Contains(name, "()") {
		return []int64{id}, nil
	}

	rows, err := f.db.Conn().QueryContext(ctx, `
		SELECT id FROM symbols WHERE name LIKE ? AND name LIKE '%()%'
	`, name+"%")
	if err != nil {
		return nil, errors.Wrap(errors.StorageError, "failed to expand class to methods", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var methodID int64
		if err := rows.Scan(&methodID); err != nil {
			return nil, err
		}
		ids = append(ids, methodID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []int64{id}, nil
	}
	return ids, nil
}

// toLocations stamps each row with the project and the operation's result
// kind ("definition" or "reference") rather than the symbol's own kind tag.
func (f *Facade) toLocations(locs []queryengine.Location, kind string) []Location {
	out := make([]Location, len(locs))
	for i, l := range locs {
		out[i] = Location{Symbol: l.SymbolName, Project: f.project, FilePath: l.FilePath, Line: l.Line, Column: l.Column, Kind: kind}
	}
	return out
}

// toDependencies surfaces each edge's relationship tag as the row's kind,
// so a caller can partition results by calls/write/import/reference without
// consulting a second field; Relationship carries the same value for
// callers that address it by name.
func (f *Facade) toDependencies(deps []queryengine.Dependency) []Dependency {
	out := make([]Dependency, len(deps))
	for i, d := range deps {
		out[i] = Dependency{
			Symbol:       d.SymbolName,
			Project:      f.project,
			FilePath:     d.FilePath,
			Line:         d.Line,
			Column:       d.Column,
			Kind:         d.Relationship,
			Depth:        d.Depth,
			Relationship: d.Relationship,
		}
	}
	return out
}
