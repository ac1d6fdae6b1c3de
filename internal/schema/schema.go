// Package schema implements C6: decoding sqlite_master rows into typed
// schema entries, including a minimal CREATE TABLE parse for column
// definitions and affinities (spec §4.6).
//
// Grounded on the teacher's internal/catalog (TableSchema/ColumnSchema
// shape, and the idea of deriving a typed catalog from parsed DDL) —
// adapted to parse real SQLite sqlite_master.sql text instead of
// consuming an already-typed in-process CREATE TABLE AST.
package schema

import (
	"strings"

	"github.com/sqlitedissect/core/internal/ddl"
	"golang.org/x/exp/slices"
)

// EntryKind is the sqlite_master "type" column (spec §4.6).
type EntryKind int

const (
	KindTable EntryKind = iota
	KindIndex
	KindView
	KindTrigger
)

func parseEntryKind(s string) (EntryKind, bool) {
	switch strings.ToLower(s) {
	case "table":
		return KindTable, true
	case "index":
		return KindIndex, true
	case "view":
		return KindView, true
	case "trigger":
		return KindTrigger, true
	default:
		return 0, false
	}
}

// Affinity is one of SQLite's five column type affinities, assigned by the
// first matching substring rule (spec §4.6).
type Affinity int

const (
	AffinityBlob Affinity = iota
	AffinityText
	AffinityInteger
	AffinityReal
	AffinityNumeric
)

func (a Affinity) String() string {
	switch a {
	case AffinityInteger:
		return "INTEGER"
	case AffinityText:
		return "TEXT"
	case AffinityBlob:
		return "BLOB"
	case AffinityReal:
		return "REAL"
	default:
		return "NUMERIC"
	}
}

// AffinityFromTypeName derives a column's type affinity from its declared
// type name, applying SQLite's documented rule order: the first matching
// substring wins. An empty/unspecified type name is BLOB.
func AffinityFromTypeName(typeName string) Affinity {
	u := strings.ToUpper(typeName)
	switch {
	case strings.Contains(u, "INT"):
		return AffinityInteger
	case strings.Contains(u, "CHAR"), strings.Contains(u, "CLOB"), strings.Contains(u, "TEXT"):
		return AffinityText
	case strings.Contains(u, "BLOB"), u == "":
		return AffinityBlob
	case strings.Contains(u, "REAL"), strings.Contains(u, "FLOA"), strings.Contains(u, "DOUB"):
		return AffinityReal
	default:
		return AffinityNumeric
	}
}

// ColumnDefinition is one parsed column of a CREATE TABLE statement.
type ColumnDefinition struct {
	Name     string
	TypeName string
	Affinity Affinity
}

// TableConstraint is a top-level non-column entry in a CREATE TABLE
// definition list (PRIMARY KEY, UNIQUE, CHECK, FOREIGN KEY), kept verbatim
// since carving/signature logic does not need to interpret it.
type TableConstraint struct {
	Raw string
}

var tableConstraintKeywords = []string{"PRIMARY", "UNIQUE", "CHECK", "FOREIGN", "CONSTRAINT"}

func isTableConstraint(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	first := strings.ToUpper(fields[0])
	return slices.Contains(tableConstraintKeywords, first)
}

// MasterSchemaEntry is one decoded sqlite_master row (spec §4.6, §3).
type MasterSchemaEntry struct {
	RowID     int64
	Kind      EntryKind
	Name      string
	TableName string
	RootPage  uint32 // 0 means none (views/triggers)
	SQL       string // empty means NULL

	Columns         []ColumnDefinition
	Constraints     []TableConstraint
	WithoutRowID    bool
	IsInternal      bool // sqlite_ prefixed
}

// ParseMasterSchemaEntry builds a MasterSchemaEntry from the five decoded
// sqlite_master columns. Columns and Constraints are populated only
// for CREATE TABLE rows whose SQL parses successfully; parse failures
// leave Columns nil rather than failing the whole entry, since a
// non-parseable SQL text does not prevent identifying the table by name
// and root page (spec §4.6 notes this is a "minimal" parser, not a full
// SQL grammar).
func ParseMasterSchemaEntry(rowID int64, kindStr, name, tableName string, rootPage uint32, sqlText string) (*MasterSchemaEntry, error) {
	kind, ok := parseEntryKind(kindStr)
	if !ok {
		kind = KindTable // unrecognized kinds are treated permissively; caller may still want the row
	}
	e := &MasterSchemaEntry{
		RowID:      rowID,
		Kind:       kind,
		Name:       name,
		TableName:  tableName,
		RootPage:   rootPage,
		SQL:        sqlText,
		IsInternal: strings.HasPrefix(name, "sqlite_"),
	}
	if kind == KindTable && sqlText != "" {
		cols, constraints, withoutRowID := parseCreateTable(sqlText)
		e.Columns = cols
		e.Constraints = constraints
		e.WithoutRowID = withoutRowID
	}
	return e, nil
}

// parseCreateTable implements the minimal DDL parse of spec §4.6: strip
// the CREATE TABLE / CREATE VIRTUAL TABLE preamble and table name, then
// split the parenthesized definition list on top-level commas.
func parseCreateTable(sqlText string) (cols []ColumnDefinition, constraints []TableConstraint, withoutRowID bool) {
	upper := strings.ToUpper(sqlText)
	withoutRowID = strings.Contains(upper, "WITHOUT ROWID")

	openParen := strings.IndexByte(sqlText, '(')
	closeParen := strings.LastIndexByte(sqlText, ')')
	if openParen < 0 || closeParen < 0 || closeParen <= openParen {
		return nil, nil, withoutRowID
	}
	defList := sqlText[openParen+1 : closeParen]

	for _, part := range ddl.SplitTopLevel(defList) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := ddl.Fields(part)
		if isTableConstraint(fields) {
			constraints = append(constraints, TableConstraint{Raw: part})
			continue
		}
		name := ddl.UnquoteIdentifier(fields[0])
		typeName := ""
		if len(fields) > 1 {
			typeName = strings.Join(fields[1:], " ")
		}
		cols = append(cols, ColumnDefinition{
			Name:     name,
			TypeName: typeName,
			Affinity: AffinityFromTypeName(typeName),
		})
	}
	return cols, constraints, withoutRowID
}
