package queryengine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"ckbscip/internal/store"
)

// fixture holds a small, hand-built graph:
//
//	Foo (Method, main.go:10) --calls--> Bar (Method, main.go:20)
//	Bar (Method, main.go:20) --calls--> Baz (Method, util.go:5)
//
// with matching rows in both call_graph and symbol_references so hybrid and
// call-graph-only traversal can be exercised independently.
type fixture struct {
	db       *store.DB
	fooID    int64
	barID    int64
	bazID    int64
	fooDefID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.scip.db")
	db, err := store.Create(dbPath, nil)
	if err != nil {
		t.Fatalf("store.Create() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db}

	mustExec := func(query string, args ...interface{}) int64 {
		t.Helper()
		res, err := db.Exec(query, args...)
		if err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			t.Fatalf("LastInsertId: %v", err)
		}
		return id
	}

	f.fooID = mustExec(`INSERT INTO symbols (name, display_name, kind) VALUES (?, ?, ?)`, "go gomod main.Foo#", "Foo", "Method")
	f.barID = mustExec(`INSERT INTO symbols (name, display_name, kind) VALUES (?, ?, ?)`, "go gomod main.Bar#", "Bar", "Method")
	f.bazID = mustExec(`INSERT INTO symbols (name, display_name, kind) VALUES (?, ?, ?)`, "go gomod main.Baz#", "Baz", "Method")

	mainDocID := mustExec(`INSERT INTO documents (relative_path, language) VALUES (?, ?)`, "main.go", "go")
	utilDocID := mustExec(`INSERT INTO documents (relative_path, language) VALUES (?, ?)`, "util.go", "go")

	f.fooDefID = mustExec(`INSERT INTO occurrences (symbol_id, document_id, start_line, start_char, end_line, end_char, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.fooID, mainDocID, 10, 0, 10, 3, roleDefinition)
	mustExec(`INSERT INTO occurrences (symbol_id, document_id, start_line, start_char, end_line, end_char, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.barID, mainDocID, 20, 0, 20, 3, roleDefinition)
	bazDefOccID := mustExec(`INSERT INTO occurrences (symbol_id, document_id, start_line, start_char, end_line, end_char, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.bazID, utilDocID, 5, 0, 5, 3, roleDefinition)
	_ = bazDefOccID

	barRefOccID := mustExec(`INSERT INTO occurrences (symbol_id, document_id, start_line, start_char, end_line, end_char, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.barID, mainDocID, 11, 4, 11, 7, roleReadAccess)
	bazRefOccID := mustExec(`INSERT INTO occurrences (symbol_id, document_id, start_line, start_char, end_line, end_char, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.bazID, mainDocID, 21, 4, 21, 7, roleReadAccess)

	mustExec(`INSERT INTO call_graph (caller_symbol_id, callee_symbol_id, occurrence_id, relationship, caller_display_name, callee_display_name) VALUES (?, ?, ?, ?, ?, ?)`,
		f.fooID, f.barID, barRefOccID, "calls", "Foo", "Bar")
	mustExec(`INSERT INTO call_graph (caller_symbol_id, callee_symbol_id, occurrence_id, relationship, caller_display_name, callee_display_name) VALUES (?, ?, ?, ?, ?, ?)`,
		f.barID, f.bazID, bazRefOccID, "calls", "Bar", "Baz")

	mustExec(`INSERT INTO symbol_references (from_symbol_id, to_symbol_id, relationship_type, occurrence_id) VALUES (?, ?, ?, ?)`,
		f.fooID, f.barID, "calls", barRefOccID)
	mustExec(`INSERT INTO symbol_references (from_symbol_id, to_symbol_id, relationship_type, occurrence_id) VALUES (?, ?, ?, ?)`,
		f.barID, f.bazID, "calls", bazRefOccID)

	if err := db.RebuildFTS(); err != nil {
		t.Fatalf("RebuildFTS() error = %v", err)
	}

	return f
}

const roleReadAccess = 8

func TestFindDefinitionFullSymbolExact(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	locs, err := e.FindDefinition(context.Background(), "go gomod main.Foo#", true)
	if err != nil {
		t.Fatalf("FindDefinition() error = %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("len(locs) = %d, want 1", len(locs))
	}
	if locs[0].Line != 10 {
		t.Errorf("Line = %d, want 10", locs[0].Line)
	}
}

func TestFindDefinitionFuzzy(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	locs, err := e.FindDefinition(context.Background(), "Foo", false)
	if err != nil {
		t.Fatalf("FindDefinition() error = %v", err)
	}
	if len(locs) != 1 || locs[0].SymbolName != "go gomod main.Foo#" {
		t.Fatalf("fuzzy FindDefinition() = %+v, want Foo's definition", locs)
	}
}

func TestFindDefinitionClassWinsOverSameNamedMethod(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	mustExec := func(query string, args ...interface{}) int64 {
		t.Helper()
		res, err := f.db.Exec(query, args...)
		if err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
		id, _ := res.LastInsertId()
		return id
	}

	classID := mustExec(`INSERT INTO symbols (name, display_name, kind) VALUES (?, ?, ?)`,
		"go gomod pkg/Widget#", "Widget", "Class")
	methodID := mustExec(`INSERT INTO symbols (name, display_name, kind) VALUES (?, ?, ?)`,
		"go gomod pkg/Factory#Widget().", "Widget", "Method")
	docID := mustExec(`INSERT INTO documents (relative_path, language) VALUES (?, ?)`, "widget.go", "go")
	mustExec(`INSERT INTO occurrences (symbol_id, document_id, start_line, start_char, end_line, end_char, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		classID, docID, 3, 0, 3, 6, roleDefinition)
	mustExec(`INSERT INTO occurrences (symbol_id, document_id, start_line, start_char, end_line, end_char, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		methodID, docID, 30, 0, 30, 6, roleDefinition)
	if err := f.db.RebuildFTS(); err != nil {
		t.Fatalf("RebuildFTS() error = %v", err)
	}

	locs, err := e.FindDefinition(context.Background(), "Widget", false)
	if err != nil {
		t.Fatalf("FindDefinition() error = %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("len(locs) = %d, want 1 (the class only): %+v", len(locs), locs)
	}
	if locs[0].SymbolName != "go gomod pkg/Widget#" {
		t.Errorf("SymbolName = %q, want the Widget class", locs[0].SymbolName)
	}
}

func TestFindDefinitionDropsParameterNoise(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	res, err := f.db.Exec(`INSERT INTO symbols (name, display_name, kind) VALUES (?, ?, ?)`,
		"go gomod main.Foo#Run().(opts)", "opts", "Parameter")
	if err != nil {
		t.Fatalf("seed parameter symbol: %v", err)
	}
	paramID, _ := res.LastInsertId()
	var docID int64
	if err := f.db.QueryRow(`SELECT id FROM documents WHERE relative_path = 'main.go'`).Scan(&docID); err != nil {
		t.Fatalf("lookup document: %v", err)
	}
	if _, err := f.db.Exec(`INSERT INTO occurrences (symbol_id, document_id, start_line, start_char, end_line, end_char, role) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		paramID, docID, 10, 12, 10, 16, roleDefinition); err != nil {
		t.Fatalf("seed parameter occurrence: %v", err)
	}
	if err := f.db.RebuildFTS(); err != nil {
		t.Fatalf("RebuildFTS() error = %v", err)
	}

	locs, err := e.FindDefinition(context.Background(), "Foo", false)
	if err != nil {
		t.Fatalf("FindDefinition() error = %v", err)
	}
	for _, loc := range locs {
		if strings.Contains(loc.SymbolName, "().(") {
			t.Errorf("parameter-definition noise not filtered: %+v", loc)
		}
	}
}

func TestFindDefinitionRejectsEmptyName(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	if _, err := e.FindDefinition(context.Background(), "", true); err == nil {
		t.Error("FindDefinition() with an empty name should error")
	}
}

func TestFindReferencesFiltersDefinitionsOut(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	locs, err := e.FindReferences(context.Background(), "Bar", 0, 0, false)
	if err != nil {
		t.Fatalf("FindReferences() error = %v", err)
	}
	for _, loc := range locs {
		if loc.Role&roleDefinition != 0 {
			t.Errorf("FindReferences() returned a definition occurrence: %+v", loc)
		}
	}
	if len(locs) != 1 {
		t.Fatalf("len(locs) = %d, want 1 (the single reference to Bar)", len(locs))
	}
}

func TestGetDependenciesValidatesDepth(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	if _, err := e.GetDependencies(context.Background(), f.fooID, 0, true); err == nil {
		t.Error("depth=0 should be rejected")
	}
	if _, err := e.GetDependencies(context.Background(), f.fooID, 11, true); err == nil {
		t.Error("depth=11 should be rejected")
	}
}

func TestGetDependenciesHybridTraversesTwoHops(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	deps, err := e.GetDependencies(context.Background(), f.fooID, 2, true)
	if err != nil {
		t.Fatalf("GetDependencies() error = %v", err)
	}

	names := make(map[string]int)
	for _, d := range deps {
		names[d.SymbolName] = d.Depth
	}
	if names["go gomod main.Bar#"] != 1 {
		t.Errorf("Bar depth = %d, want 1", names["go gomod main.Bar#"])
	}
	if names["go gomod main.Baz#"] != 2 {
		t.Errorf("Baz depth = %d, want 2", names["go gomod main.Baz#"])
	}
}

func TestGetDependenciesCallGraphOnlyStopsAtOneHopByDefault(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	deps, err := e.GetDependencies(context.Background(), f.fooID, 1, false)
	if err != nil {
		t.Fatalf("GetDependencies() error = %v", err)
	}
	if len(deps) != 1 || deps[0].SymbolName != "go gomod main.Bar#" {
		t.Fatalf("depth-1 call_graph traversal = %+v, want only Bar", deps)
	}
}

func TestGetDependenciesDepthOneIsSubsetOfDepthTen(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	shallow, err := e.GetDependencies(context.Background(), f.fooID, 1, true)
	if err != nil {
		t.Fatalf("GetDependencies(depth=1) error = %v", err)
	}
	deep, err := e.GetDependencies(context.Background(), f.fooID, 10, true)
	if err != nil {
		t.Fatalf("GetDependencies(depth=10) error = %v", err)
	}

	deepNames := make(map[string]bool, len(deep))
	for _, d := range deep {
		deepNames[d.SymbolName] = true
	}
	for _, d := range shallow {
		if !deepNames[d.SymbolName] {
			t.Errorf("depth-1 result %q missing from depth-10 results", d.SymbolName)
		}
	}
	if len(deep) < len(shallow) {
		t.Errorf("depth-10 returned fewer rows (%d) than depth-1 (%d)", len(deep), len(shallow))
	}
}

func TestGetDependentsOfBaz(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	deps, err := e.GetDependents(context.Background(), f.bazID, 2, true)
	if err != nil {
		t.Fatalf("GetDependents() error = %v", err)
	}
	names := make(map[string]bool)
	for _, d := range deps {
		names[d.SymbolName] = true
	}
	if !names["go gomod main.Bar#"] || !names["go gomod main.Foo#"] {
		t.Errorf("GetDependents(Baz) = %+v, want Bar and Foo", deps)
	}
}

func TestAnalyzeImpactGroupsByFileAndSortsByCountDescending(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	entries, err := e.AnalyzeImpact(context.Background(), f.bazID, 2, true)
	if err != nil {
		t.Fatalf("AnalyzeImpact() error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one impact entry")
	}
	if entries[0].FilePath != "main.go" {
		t.Errorf("first entry = %+v, want main.go (2 impacted symbols vs 0 elsewhere)", entries[0])
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].SymbolCount < entries[i].SymbolCount {
			t.Errorf("entries not sorted by count descending: %+v", entries)
		}
	}
}

func TestTraceCallChainFindsPath(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	hops, err := e.TraceCallChain(context.Background(), []int64{f.fooID}, []int64{f.bazID}, 3, 10)
	if err != nil {
		t.Fatalf("TraceCallChain() error = %v", err)
	}
	if len(hops) == 0 {
		t.Fatal("expected at least one chain from Foo to Baz")
	}
	found := false
	for _, h := range hops {
		if len(h.Path) > 0 && h.Path[0] == "go gomod main.Foo#" && h.Path[len(h.Path)-1] == "go gomod main.Baz#" {
			found = true
		}
	}
	if !found {
		t.Errorf("no hop path from Foo to Baz found in %+v", hops)
	}
}

func TestTraceCallChainEmptyInputsShortCircuit(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	hops, err := e.TraceCallChain(context.Background(), nil, []int64{f.bazID}, 3, 10)
	if err != nil {
		t.Fatalf("TraceCallChain() error = %v", err)
	}
	if hops != nil {
		t.Errorf("TraceCallChain() with no sources should return nil, got %+v", hops)
	}
}

func TestTraceCallChainDepthCappedAtThree(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	if _, err := e.TraceCallChain(context.Background(), []int64{f.fooID}, []int64{f.bazID}, 9, 10); err != nil {
		t.Fatalf("TraceCallChain() with an over-cap maxDepth should clamp, not error: %v", err)
	}
}

func TestTraceCallChainRejectsOutOfRangeDepth(t *testing.T) {
	f := newFixture(t)
	e := New(f.db)

	if _, err := e.TraceCallChain(context.Background(), []int64{f.fooID}, []int64{f.bazID}, 0, 10); err == nil {
		t.Error("maxDepth=0 should be rejected")
	}
}
