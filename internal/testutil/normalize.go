// Package testutil holds the small normalization helpers shared by tests
// that compare query results across index regenerations.
package testutil

import (
	"encoding/json"
	"strings"
	"testing"
)

// NormalizeSymbolID masks the package-manager version component of a SCIP
// symbol string so test expectations stay stable across dependency bumps.
// "scip-go gomod github.com/foo/bar v1.2.3 pkg.Foo#" becomes
// "scip-go gomod github.com/foo/bar <version> pkg.Foo#". Strings too short
// to carry a version field (e.g. "local 0") are returned unchanged.
func NormalizeSymbolID(id string) string {
	fields := strings.Fields(id)
	if len(fields) < 4 {
		return id
	}
	fields[3] = "<version>"
	return strings.Join(fields, " ")
}

// StructToMap converts a struct to a map[string]any via a JSON
// round-trip, so a typed query result can be inspected field-by-field
// without reflection boilerplate.
func StructToMap(t *testing.T, v any) map[string]any {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal struct: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal to map: %v", err)
	}

	return result
}
