package etl

import (
	"sort"
	"strings"

	"ckbscip/internal/reader"
	"ckbscip/internal/store"
)

type symbolRefEdge struct {
	fromSymbolID     int64
	toSymbolID       int64
	relationshipType string
	occurrenceID     int64
}

// buildSymbolReferences populates symbol_references: for every definition
// with a known enclosing scope (protobuf-provided or computed), an edge to
// every non-definition occurrence within that scope; then, for any
// reference not already covered by a scope, an edge from the nearest
// preceding definition in the document (the proximity heuristic, which
// covers the majority of references since few definitions carry an
// explicit enclosing_range).
//
// Local-prefixed and Parameter-kind symbols are excluded from "from"
// candidacy in both passes, matching enclosingResolver.build's exclusion:
// neither can meaningfully enclose another occurrence.
func buildSymbolReferences(db *store.DB, occs []reader.Occurrence, symbolMap map[string]int64, symbolKind map[string]string, docMap map[int]int64, occIDMap map[occKey]int64) (int, error) {
	computed := computeEnclosingRanges(occs)

	byDoc := make(map[int][]reader.Occurrence)
	for _, occ := range occs {
		byDoc[occ.DocumentIndex] = append(byDoc[occ.DocumentIndex], occ)
	}

	var edges []symbolRefEdge

	for docIndex, docOccs := range byDoc {
		type defnInfo struct {
			symbolID   int64
			symbolName string
			defLine    int32
			scopeStart int32
			scopeEnd   int32
		}

		var allDefs []defnInfo
		var defsWithScope []defnInfo

		for _, occ := range docOccs {
			if occ.Role&roleDefinition == 0 {
				continue
			}
			symbolID, ok := symbolMap[occ.SymbolName]
			if !ok {
				continue
			}
			if strings.HasPrefix(occ.SymbolName, "local ") {
				continue
			}
			if symbolKind[occ.SymbolName] == "Parameter" {
				continue
			}
			d := defnInfo{symbolID: symbolID, symbolName: occ.SymbolName, defLine: occ.StartLine}
			allDefs = append(allDefs, d)

			if occ.EnclosingStart != nil {
				d.scopeStart = occ.EnclosingStart.Line
				d.scopeEnd = occ.EnclosingEnd.Line
				defsWithScope = append(defsWithScope, d)
			} else if cr, ok := computed[computedRangeKey(docIndex, occ.SymbolName)]; ok {
				d.scopeStart = cr.startLine
				d.scopeEnd = cr.endLine
				defsWithScope = append(defsWithScope, d)
			}
		}

		sort.Slice(allDefs, func(i, j int) bool { return allDefs[i].defLine < allDefs[j].defLine })

		covered := make(map[[3]interface{}]bool)

		for _, defn := range defsWithScope {
			for _, occ := range docOccs {
				if occ.Role&roleDefinition != 0 {
					continue
				}
				if occ.SymbolName == defn.symbolName {
					continue
				}
				if strings.HasPrefix(occ.SymbolName, "local ") {
					continue
				}
				if occ.StartLine < defn.scopeStart || occ.StartLine > defn.scopeEnd {
					continue
				}
				toSymbolID, ok := symbolMap[occ.SymbolName]
				if !ok {
					continue
				}
				docID, ok := docMap[docIndex]
				if !ok {
					continue
				}
				occID, ok := occIDMap[occKey{toSymbolID, docID, occ.StartLine, occ.StartChar}]
				if !ok {
					continue
				}
				edges = append(edges, symbolRefEdge{defn.symbolID, toSymbolID, determineRelationshipType(occ.Role), occID})
			}
		}

		for _, defn := range defsWithScope {
			for _, occ := range docOccs {
				if occ.Role&roleDefinition != 0 {
					continue
				}
				if occ.StartLine >= defn.scopeStart && occ.StartLine <= defn.scopeEnd {
					covered[[3]interface{}{occ.SymbolName, occ.StartLine, occ.StartChar}] = true
				}
			}
		}

		for _, occ := range docOccs {
			if occ.Role&roleDefinition != 0 {
				continue
			}
			if strings.HasPrefix(occ.SymbolName, "local ") {
				continue
			}
			if covered[[3]interface{}{occ.SymbolName, occ.StartLine, occ.StartChar}] {
				continue
			}

			var fromSymbolID int64
			var fromSymbolName string
			found := false
			for _, defn := range allDefs {
				if defn.defLine <= occ.StartLine {
					fromSymbolID = defn.symbolID
					fromSymbolName = defn.symbolName
					found = true
				} else {
					break
				}
			}
			if !found {
				continue
			}
			if occ.SymbolName == fromSymbolName {
				continue
			}

			toSymbolID, ok := symbolMap[occ.SymbolName]
			if !ok {
				continue
			}
			docID, ok := docMap[docIndex]
			if !ok {
				continue
			}
			occID, ok := occIDMap[occKey{toSymbolID, docID, occ.StartLine, occ.StartChar}]
			if !ok {
				continue
			}
			edges = append(edges, symbolRefEdge{fromSymbolID, toSymbolID, determineRelationshipType(occ.Role), occID})
		}
	}

	if len(edges) == 0 {
		return 0, nil
	}

	stmt, err := db.Conn().Prepare(`
		INSERT INTO symbol_references (from_symbol_id, to_symbol_id, relationship_type, occurrence_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.Exec(e.fromSymbolID, e.toSymbolID, e.relationshipType, e.occurrenceID); err != nil {
			return 0, err
		}
	}

	return len(edges), nil
}

type callGraphEdge struct {
	callerSymbolID    int64
	calleeSymbolID    int64
	occurrenceID      interface{}
	relationship      string
	callerDisplayName interface{}
	calleeDisplayName interface{}
}

// buildCallGraph resolves an enclosing (caller) symbol for every
// non-definition occurrence and records a denormalized edge carrying both
// endpoints' display names, so query-time joins back to symbols are rarely
// needed.
func buildCallGraph(db *store.DB, occs []reader.Occurrence, symbolMap map[string]int64, symbolKind map[string]string, docMap map[int]int64, occIDMap map[occKey]int64) (int, error) {
	displayNames, err := loadDisplayNames(db)
	if err != nil {
		return 0, err
	}

	resolver := newEnclosingResolver()
	resolver.build(occs, symbolMap, symbolKind)

	var edges []callGraphEdge

	for _, occ := range occs {
		if occ.Role&roleDefinition != 0 {
			continue
		}

		callerID, ok := resolver.resolve(occ)
		if !ok {
			continue
		}

		calleeID, ok := symbolMap[occ.SymbolName]
		if !ok {
			continue
		}

		var occurrenceID interface{}
		if docID, ok := docMap[occ.DocumentIndex]; ok {
			if id, ok := occIDMap[occKey{calleeID, docID, occ.StartLine, occ.StartChar}]; ok {
				occurrenceID = id
			}
		}

		edges = append(edges, callGraphEdge{
			callerSymbolID:    callerID,
			calleeSymbolID:    calleeID,
			occurrenceID:      occurrenceID,
			relationship:      determineRelationshipType(occ.Role),
			callerDisplayName: nullableString(displayNames[callerID]),
			calleeDisplayName: nullableString(displayNames[calleeID]),
		})
	}

	if len(edges) > 0 {
		stmt, err := db.Conn().Prepare(`
			INSERT INTO call_graph (
				caller_symbol_id, callee_symbol_id, occurrence_id, relationship,
				caller_display_name, callee_display_name
			)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		for _, e := range edges {
			if _, err := stmt.Exec(e.callerSymbolID, e.calleeSymbolID, e.occurrenceID, e.relationship, e.callerDisplayName, e.calleeDisplayName); err != nil {
				return 0, err
			}
		}
	}

	syntheticCount, err := addInterfaceToImplEdges(db)
	if err != nil {
		return 0, err
	}

	return len(edges) + syntheticCount, nil
}

func loadDisplayNames(db *store.DB) (map[int64]string, error) {
	rows, err := db.Query(`SELECT id, display_name FROM symbols`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name *string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		if name != nil {
			names[id] = *name
		}
	}
	return names, rows.Err()
}

// addInterfaceToImplEdges adds synthetic interface->implementation edges
// to call_graph. Detection is purely syntactic: an AbstractMethod symbol
// whose method signature (the part of its name after '#') also appears on
// a Method symbol named "<InterfaceClass>Impl" inside an /impl/
// subpackage. This heuristic is not guaranteed complete or precise — it
// covers the common Go/Java convention, nothing more.
func addInterfaceToImplEdges(db *store.DB) (int, error) {
	rows, err := db.Query(`SELECT id, name, display_name FROM symbols WHERE kind = 'AbstractMethod'`)
	if err != nil {
		return 0, err
	}

	type iface struct {
		id          int64
		name        string
		displayName *string
	}
	var interfaces []iface
	for rows.Next() {
		var f iface
		if err := rows.Scan(&f.id, &f.name, &f.displayName); err != nil {
			rows.Close()
			return 0, err
		}
		interfaces = append(interfaces, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	type edge struct {
		interfaceID, implID int64
		interfaceDisplay    interface{}
		implDisplay         interface{}
	}
	var edges []edge

	implStmt, err := db.Conn().Prepare(`
		SELECT id, name, display_name FROM symbols
		WHERE kind = 'Method' AND name LIKE ? AND name LIKE ?
	`)
	if err != nil {
		return 0, err
	}
	defer implStmt.Close()

	for _, in := range interfaces {
		hashIdx := strings.Index(in.name, "#")
		if hashIdx < 0 {
			continue
		}
		methodSig := in.name[hashIdx+1:]

		classPart := in.name[:hashIdx]
		if spaceIdx := strings.LastIndex(classPart, " "); spaceIdx >= 0 {
			classPart = classPart[spaceIdx+1:]
		}
		interfaceClass := classPart
		if slashIdx := strings.LastIndex(classPart, "/"); slashIdx >= 0 {
			interfaceClass = classPart[slashIdx+1:]
		}

		implRows, err := implStmt.Query("%/impl/%Impl#"+methodSig, "%"+interfaceClass+"Impl#%")
		if err != nil {
			return 0, err
		}
		for implRows.Next() {
			var implID int64
			var implName string
			var implDisplay *string
			if err := implRows.Scan(&implID, &implName, &implDisplay); err != nil {
				implRows.Close()
				return 0, err
			}
			edges = append(edges, edge{
				interfaceID:      in.id,
				implID:           implID,
				interfaceDisplay: nullablePtr(in.displayName),
				implDisplay:      nullablePtr(implDisplay),
			})
		}
		implRows.Close()
		if err := implRows.Err(); err != nil {
			return 0, err
		}
	}

	if len(edges) == 0 {
		return 0, nil
	}

	stmt, err := db.Conn().Prepare(`
		INSERT INTO call_graph (
			caller_symbol_id, callee_symbol_id, occurrence_id, relationship,
			caller_display_name, callee_display_name
		)
		VALUES (?, ?, NULL, 'calls', ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.Exec(e.interfaceID, e.implID, e.interfaceDisplay, e.implDisplay); err != nil {
			return 0, err
		}
	}

	return len(edges), nil
}

func nullablePtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
