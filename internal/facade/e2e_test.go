package facade

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ckbscip/internal/etl"
	"ckbscip/internal/logging"
	"ckbscip/internal/store"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"
)

const (
	userServiceSym  = "python test `example`/UserService#"
	authenticateSym = "python test `example`/UserService#authenticate()."
	loggerSym       = "python test `example`/Logger#"
	logSym          = "python test `example`/Logger#log()."
)

// writeExampleIndex produces a small python-repo index: a UserService class
// whose authenticate method calls Logger.log, with both classes defined in
// the same file.
func writeExampleIndex(t *testing.T) string {
	t.Helper()

	idx := &scippb.Index{
		Metadata: &scippb.Metadata{ProjectRoot: "file:///example"},
		Documents: []*scippb.Document{
			{
				RelativePath: "src/example.py",
				Language:     "python",
				Symbols: []*scippb.SymbolInformation{
					{Symbol: userServiceSym, DisplayName: "UserService", Kind: scippb.SymbolInformation_Class},
					{Symbol: authenticateSym, DisplayName: "authenticate", Kind: scippb.SymbolInformation_Method},
					{Symbol: loggerSym, DisplayName: "Logger", Kind: scippb.SymbolInformation_Class},
					{Symbol: logSym, DisplayName: "log", Kind: scippb.SymbolInformation_Method},
				},
				Occurrences: []*scippb.Occurrence{
					{Symbol: userServiceSym, Range: []int32{0, 6, 17}, SymbolRoles: 1},
					{Symbol: authenticateSym, Range: []int32{2, 4, 16}, SymbolRoles: 1},
					{Symbol: logSym, Range: []int32{3, 8, 18}, SymbolRoles: 8},
					{Symbol: loggerSym, Range: []int32{6, 6, 12}, SymbolRoles: 1},
					{Symbol: logSym, Range: []int32{8, 4, 7}, SymbolRoles: 1},
				},
			},
		},
	}

	data, err := proto.Marshal(idx)
	if err != nil {
		t.Fatalf("failed to marshal example index: %v", err)
	}
	path := filepath.Join(t.TempDir(), "index.scip")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write example index: %v", err)
	}
	return path
}

func buildExampleFacade(t *testing.T) *Facade {
	t.Helper()

	scipPath := writeExampleIndex(t)
	dbPath := scipPath + ".db"
	logger := logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel, Output: io.Discard})

	if _, err := etl.Build(scipPath, dbPath, logger); err != nil {
		t.Fatalf("etl.Build() error = %v", err)
	}

	db, err := store.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(db, "example")
}

func TestEndToEndFindDefinitionClass(t *testing.T) {
	f := buildExampleFacade(t)

	locs, err := f.FindDefinition(context.Background(), "UserService", true)
	if err != nil {
		t.Fatalf("FindDefinition() error = %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("len(locs) = %d, want 1: %+v", len(locs), locs)
	}
	loc := locs[0]
	if loc.Symbol != userServiceSym {
		t.Errorf("Symbol = %q, want %q", loc.Symbol, userServiceSym)
	}
	if loc.FilePath != "src/example.py" {
		t.Errorf("FilePath = %q, want src/example.py", loc.FilePath)
	}
	if loc.Line != 0 || loc.Column != 6 {
		t.Errorf("position = %d:%d, want 0:6", loc.Line, loc.Column)
	}
	if loc.Kind != "definition" {
		t.Errorf("Kind = %q, want definition", loc.Kind)
	}
	if loc.Project != "example" {
		t.Errorf("Project = %q, want example", loc.Project)
	}
}

func TestEndToEndFindDefinitionMethodFuzzy(t *testing.T) {
	f := buildExampleFacade(t)

	locs, err := f.FindDefinition(context.Background(), "authenticate", false)
	if err != nil {
		t.Fatalf("FindDefinition() error = %v", err)
	}
	if len(locs) == 0 {
		t.Fatal("expected at least one definition for authenticate")
	}
	found := false
	for _, loc := range locs {
		if strings.Contains(loc.Symbol, "authenticate") && loc.FilePath == "src/example.py" && loc.Line == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("no authenticate definition at src/example.py:2 in %+v", locs)
	}
}

func TestEndToEndDependenciesOfAuthenticate(t *testing.T) {
	f := buildExampleFacade(t)

	deps, err := f.GetDependencies(context.Background(), authenticateSym, 1, true)
	if err != nil {
		t.Fatalf("GetDependencies() error = %v", err)
	}

	found := false
	for _, d := range deps {
		if strings.Contains(d.Symbol, "Logger") {
			found = true
			switch d.Kind {
			case "calls", "import", "reference":
			default:
				t.Errorf("Logger dependency Kind = %q, want calls/import/reference", d.Kind)
			}
		}
	}
	if !found {
		t.Errorf("GetDependencies(authenticate) = %+v, want a Logger entry", deps)
	}
}

func TestEndToEndTraceAuthenticateToLog(t *testing.T) {
	f := buildExampleFacade(t)

	hops, err := f.TraceCallChain(context.Background(), authenticateSym, logSym, 5, 0)
	if err != nil {
		t.Fatalf("TraceCallChain() error = %v", err)
	}
	if len(hops) != 1 {
		t.Fatalf("len(hops) = %d, want exactly 1: %+v", len(hops), hops)
	}
	h := hops[0]
	if h.Length != 1 {
		t.Errorf("Length = %d, want 1", h.Length)
	}
	if h.HasCycle {
		t.Error("HasCycle = true, want false")
	}
	if len(h.Path) != 2 || h.Path[0] != authenticateSym || h.Path[1] != logSym {
		t.Errorf("Path = %v, want [authenticate, log]", h.Path)
	}
}

func TestEndToEndTraceClassExpandsToMethods(t *testing.T) {
	f := buildExampleFacade(t)

	hops, err := f.TraceCallChain(context.Background(), userServiceSym, logSym, 3, 0)
	if err != nil {
		t.Fatalf("TraceCallChain() error = %v", err)
	}
	if len(hops) == 0 {
		t.Fatal("expected a chain from the UserService class (expanded to authenticate) to log")
	}
}

func TestEndToEndTraceUnreachablePair(t *testing.T) {
	f := buildExampleFacade(t)

	hops, err := f.TraceCallChain(context.Background(), logSym, authenticateSym, 3, 0)
	if err != nil {
		t.Fatalf("TraceCallChain() error = %v", err)
	}
	if len(hops) != 0 {
		t.Errorf("unreachable pair should yield no chains, got %+v", hops)
	}
}

func TestEndToEndAnalyzeImpactOfLog(t *testing.T) {
	f := buildExampleFacade(t)

	entries, err := f.AnalyzeImpact(context.Background(), logSym, 2)
	if err != nil {
		t.Fatalf("AnalyzeImpact() error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one impacted file")
	}
	if entries[0].FilePath != "src/example.py" {
		t.Errorf("top impacted file = %q, want src/example.py", entries[0].FilePath)
	}
	if entries[0].SymbolCount != len(entries[0].Symbols) {
		t.Errorf("SymbolCount = %d, len(Symbols) = %d, want equal", entries[0].SymbolCount, len(entries[0].Symbols))
	}
}
