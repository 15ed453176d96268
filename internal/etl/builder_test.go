package etl

import (
	"path/filepath"
	"testing"

	"ckbscip/internal/reader"
	"ckbscip/internal/store"
)

func TestDetermineRelationshipType(t *testing.T) {
	tests := []struct {
		name string
		role int32
		want string
	}{
		{"read access", roleReadAccess, "calls"},
		{"write access", roleWriteAccess, "write"},
		{"read and write combined favors read", roleReadAccess | roleWriteAccess, "calls"},
		{"import", roleImport, "import"},
		{"definition only", roleDefinition, "reference"},
		{"no role bits", 0, "reference"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determineRelationshipType(tt.role); got != tt.want {
				t.Errorf("determineRelationshipType(%d) = %q, want %q", tt.role, got, tt.want)
			}
		})
	}
}

func TestExternalDisplayName(t *testing.T) {
	tests := []struct {
		name       string
		symbolName string
		want       string
	}{
		{"trailing method hash", "go gomod main/pkg.Foo#", "pkg.Foo"},
		{"trailing field dot", "go gomod main/pkg.bar.", "pkg.bar"},
		{"no suffix to strip", "go gomod main/pkg", "pkg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := externalDisplayName(tt.symbolName); got != tt.want {
				t.Errorf("externalDisplayName(%q) = %q, want %q", tt.symbolName, got, tt.want)
			}
		})
	}
}

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.scip.db")
	db, err := store.Create(dbPath, nil)
	if err != nil {
		t.Fatalf("store.Create() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertSymbolsAndExternalSymbols(t *testing.T) {
	db := newTestDB(t)

	symbols := []reader.Symbol{
		{Name: "go gomod main.Foo#", DisplayName: "Foo", Kind: "Method"},
	}
	symbolMap, symbolKind, err := insertSymbols(db, symbols)
	if err != nil {
		t.Fatalf("insertSymbols() error = %v", err)
	}
	if len(symbolMap) != 1 {
		t.Fatalf("len(symbolMap) = %d, want 1", len(symbolMap))
	}
	if symbolKind["go gomod main.Foo#"] != "Method" {
		t.Errorf("symbolKind mismatch: %v", symbolKind)
	}

	occs := []reader.Occurrence{
		{SymbolName: "go gomod main.Foo#", Role: roleDefinition},
		{SymbolName: "go stdlib fmt.Println()."},
	}
	if err := insertExternalSymbols(db, occs, symbolMap, symbolKind); err != nil {
		t.Fatalf("insertExternalSymbols() error = %v", err)
	}
	if len(symbolMap) != 2 {
		t.Fatalf("len(symbolMap) = %d, want 2 after external insert", len(symbolMap))
	}
	if _, ok := symbolMap["go stdlib fmt.Println()."]; !ok {
		t.Error("external symbol was not added to symbolMap")
	}
}

func TestComputeEnclosingRangesUsesEOFMarkerForLastDefinition(t *testing.T) {
	occs := []reader.Occurrence{
		{SymbolName: "go gomod main.Foo#", DocumentIndex: 0, StartLine: 10, Role: roleDefinition},
		{SymbolName: "go gomod main.Bar#", DocumentIndex: 0, StartLine: 20, Role: roleDefinition},
	}

	got := computeEnclosingRanges(occs)

	foo, ok := got[computedRangeKey(0, "go gomod main.Foo#")]
	if !ok {
		t.Fatal("expected a computed range for Foo")
	}
	if foo.startLine != 10 || foo.endLine != 19 {
		t.Errorf("Foo range = %+v, want start=10 end=19", foo)
	}

	bar, ok := got[computedRangeKey(0, "go gomod main.Bar#")]
	if !ok {
		t.Fatal("expected a computed range for Bar")
	}
	if bar.endLine != eofLineMarker {
		t.Errorf("Bar end line = %d, want eofLineMarker (%d)", bar.endLine, eofLineMarker)
	}
}

func TestComputeEnclosingRangesSkipsDefinitionsWithExplicitEnclosingRange(t *testing.T) {
	occs := []reader.Occurrence{
		{
			SymbolName: "go gomod main.Foo#", DocumentIndex: 0, StartLine: 10, Role: roleDefinition,
			EnclosingStart: &reader.Position{Line: 10}, EnclosingEnd: &reader.Position{Line: 15},
		},
	}

	got := computeEnclosingRanges(occs)
	if _, ok := got[computedRangeKey(0, "go gomod main.Foo#")]; ok {
		t.Error("definitions with an explicit enclosing_range should not get a computed range")
	}
}
