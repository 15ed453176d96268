package etl

import (
	"sort"
	"strings"

	"ckbscip/internal/reader"
)

const roleDefinition = 1

// rangeKey identifies a definition occurrence's exact span within a
// document, used to match an enclosing_range back to the symbol it
// belongs to.
type rangeKey struct {
	docIndex             int
	startLine, startChar int32
	endLine, endChar     int32
}

type definition struct {
	symbolID int64
	line     int32
}

// enclosingResolver resolves which symbol encloses a given occurrence, for
// call_graph caller determination. It tries an exact enclosing_range match
// first, then falls back to a proximity heuristic: the nearest preceding
// definition in the same document.
//
// Local-prefixed symbols and Parameter-kind symbols are excluded from the
// proximity candidate list: parameters are frequently defined on the same
// line as the method that declares them, which would otherwise make a
// parameter falsely "enclose" references that actually belong to its
// method.
type enclosingResolver struct {
	rangeMap map[rangeKey]int64
	docDefs  map[int][]definition
}

func newEnclosingResolver() *enclosingResolver {
	return &enclosingResolver{
		rangeMap: make(map[rangeKey]int64),
		docDefs:  make(map[int][]definition),
	}
}

// build indexes every definition occurrence by its exact range and, for
// proximity resolution, by document and line (excluding locals and
// parameters).
func (r *enclosingResolver) build(occs []reader.Occurrence, symbolMap map[string]int64, symbolKind map[string]string) {
	for _, occ := range occs {
		if occ.Role&roleDefinition == 0 {
			continue
		}
		symbolID, ok := symbolMap[occ.SymbolName]
		if !ok {
			continue
		}

		key := rangeKey{occ.DocumentIndex, occ.StartLine, occ.StartChar, occ.EndLine, occ.EndChar}
		r.rangeMap[key] = symbolID

		if strings.HasPrefix(occ.SymbolName, "local ") {
			continue
		}
		if symbolKind[occ.SymbolName] == "Parameter" {
			continue
		}
		r.docDefs[occ.DocumentIndex] = append(r.docDefs[occ.DocumentIndex], definition{symbolID: symbolID, line: occ.StartLine})
	}

	for docIndex := range r.docDefs {
		defs := r.docDefs[docIndex]
		sort.Slice(defs, func(i, j int) bool { return defs[i].line < defs[j].line })
		r.docDefs[docIndex] = defs
	}
}

// resolve returns the enclosing symbol ID for occ, or false if none is
// found (a module-level reference).
func (r *enclosingResolver) resolve(occ reader.Occurrence) (int64, bool) {
	if occ.EnclosingStart != nil && occ.EnclosingEnd != nil {
		key := rangeKey{
			occ.DocumentIndex,
			occ.EnclosingStart.Line, occ.EnclosingStart.Char,
			occ.EnclosingEnd.Line, occ.EnclosingEnd.Char,
		}
		if id, ok := r.rangeMap[key]; ok {
			return id, true
		}
	}
	return r.resolveByProximity(occ.DocumentIndex, occ.StartLine)
}

func (r *enclosingResolver) resolveByProximity(docIndex int, line int32) (int64, bool) {
	defs, ok := r.docDefs[docIndex]
	if !ok {
		return 0, false
	}

	var candidate *definition
	for i := range defs {
		if defs[i].line <= line {
			candidate = &defs[i]
		} else {
			break
		}
	}
	if candidate == nil {
		return 0, false
	}
	return candidate.symbolID, true
}
