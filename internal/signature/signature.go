// Package signature implements C11: summarizing how a table's records
// actually look across history — the static per-schema-column allowed
// serial-type sets, and the observed per-row / per-column / per-row-shape
// statistics the carver (C12) uses to judge whether a candidate decode is
// plausible.
//
// Grounded on the teacher's internal/storage/statistics-adjacent code
// (histogram-style counters keyed by observed value shape) — there is no
// direct teacher analogue for a format-signature, so the counting/
// probability bookkeeping pattern is the part carried over, generalized
// to SQLite serial-type tuples instead of column value histograms.
package signature

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sqlitedissect/core/internal/record"
	"github.com/sqlitedissect/core/internal/schema"
)

// SchemaColSig is the static, DDL-derived allowed serial-type sets for one
// schema column (spec §4.11).
type SchemaColSig struct {
	Name        string
	Affinity    schema.Affinity
	Recommended []int64
	Complete    []int64
}

var allSentinels = []int64{-2, -1, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

func recommendedFor(a schema.Affinity) []int64 {
	switch a {
	case schema.AffinityInteger:
		return []int64{1, 2, 3, 4, 5, 6, 8, 9}
	case schema.AffinityReal, schema.AffinityNumeric:
		return []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	case schema.AffinityText:
		return []int64{-2}
	default: // BLOB
		return []int64{-1}
	}
}

func completeFor(a schema.Affinity) []int64 {
	if a == schema.AffinityText {
		return []int64{-2, -1, 0}
	}
	return append([]int64(nil), allSentinels...)
}

// RowSig is the observed statistics for one serial-type signature (spec
// §4.11): how many rows shared this exact column-type tuple.
type RowSig struct {
	SerialTypes []int64
	Count       int
	Probability float64
}

// ColSig is one table column's observed statistics, derived by
// transposing row signatures (spec §4.11).
type ColSig struct {
	Index                   int
	SerialTypeCounts        map[int64]int
	SerialTypeProbabilities map[int64]float64
	VariableLengthSizesSeen map[int]bool // content-size bytes observed for text/blob columns
}

func newColSig(index int) *ColSig {
	return &ColSig{
		Index:                   index,
		SerialTypeCounts:        map[int64]int{},
		SerialTypeProbabilities: map[int64]float64{},
		VariableLengthSizesSeen: map[int]bool{},
	}
}

// ColumnBreakdownEntry counts rows observed with a given column count
// (spec §4.11: "NCols -> (row_count, probability)").
type ColumnBreakdownEntry struct {
	Count       int
	Probability float64
}

// Signature is the full per-table summary of spec §4.11.
type Signature struct {
	SchemaColumnSignatures []SchemaColSig
	TableRowSignatures     map[string]*RowSig
	TableColumnSignatures  []*ColSig
	ColumnBreakdown        map[int]*ColumnBreakdownEntry
	AlteredColumns         bool
	UniqueRecords          uint32

	totalRows int
}

// New builds the static schema-column signatures for entry's columns;
// Observe must be called once per record seen across the table's history
// before Finalize computes probabilities.
func New(entry *schema.MasterSchemaEntry) *Signature {
	s := &Signature{
		TableRowSignatures: map[string]*RowSig{},
		ColumnBreakdown:    map[int]*ColumnBreakdownEntry{},
	}
	for _, col := range entry.Columns {
		s.SchemaColumnSignatures = append(s.SchemaColumnSignatures, SchemaColSig{
			Name:        col.Name,
			Affinity:    col.Affinity,
			Recommended: recommendedFor(col.Affinity),
			Complete:    completeFor(col.Affinity),
		})
	}
	return s
}

// serialTypeSigKey encodes a serial-type signature tuple into a stable map
// key.
func serialTypeSigKey(sig []int64) string {
	parts := make([]string, len(sig))
	for i, v := range sig {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

// Observe folds one decoded record into the running statistics.
func (s *Signature) Observe(rec *record.Record) {
	sig := rec.SerialTypeSignature()
	key := serialTypeSigKey(sig)
	rs, ok := s.TableRowSignatures[key]
	if !ok {
		rs = &RowSig{SerialTypes: sig}
		s.TableRowSignatures[key] = rs
		s.UniqueRecords++
	}
	rs.Count++
	s.totalRows++

	n := len(rec.Columns)
	be, ok := s.ColumnBreakdown[n]
	if !ok {
		be = &ColumnBreakdownEntry{}
		s.ColumnBreakdown[n] = be
	}
	be.Count++

	for len(s.TableColumnSignatures) < n {
		s.TableColumnSignatures = append(s.TableColumnSignatures, newColSig(len(s.TableColumnSignatures)))
	}
	for i, col := range rec.Columns {
		cs := s.TableColumnSignatures[i]
		sentinel := record.SerialTypeSentinel(col.SerialType)
		cs.SerialTypeCounts[sentinel]++
		if size, err := record.ContentSize(col.SerialType); err == nil {
			if sentinel == -1 || sentinel == -2 {
				cs.VariableLengthSizesSeen[size] = true
			}
		}
	}
}

// Finalize computes probabilities once all records have been observed.
func (s *Signature) Finalize() {
	if s.totalRows == 0 {
		return
	}
	for _, rs := range s.TableRowSignatures {
		rs.Probability = float64(rs.Count) / float64(s.totalRows)
	}
	for _, be := range s.ColumnBreakdown {
		be.Probability = float64(be.Count) / float64(s.totalRows)
	}
	s.AlteredColumns = len(s.ColumnBreakdown) > 1
	for _, cs := range s.TableColumnSignatures {
		total := 0
		for _, c := range cs.SerialTypeCounts {
			total += c
		}
		if total == 0 {
			continue
		}
		for st, c := range cs.SerialTypeCounts {
			cs.SerialTypeProbabilities[st] = float64(c) / float64(total)
		}
	}
}

// AllowedSerialTypes returns the set of serial-type sentinels considered
// plausible for column i, given the schema's static signature unless
// altered_columns is set (in which case the observed per-column
// signatures, which already account for row-shape drift, are used
// instead).
func (s *Signature) AllowedSerialTypes(i int) map[int64]bool {
	allowed := map[int64]bool{}
	if !s.AlteredColumns && i < len(s.SchemaColumnSignatures) {
		for _, st := range s.SchemaColumnSignatures[i].Complete {
			allowed[st] = true
		}
		return allowed
	}
	if i < len(s.TableColumnSignatures) {
		for st := range s.TableColumnSignatures[i].SerialTypeCounts {
			allowed[st] = true
		}
	}
	return allowed
}

// SortedRowSignatureKeys returns TableRowSignatures' keys in deterministic
// order (Open Question: map iteration order substitute, spec §9).
func (s *Signature) SortedRowSignatureKeys() []string {
	keys := maps.Keys(s.TableRowSignatures)
	slices.Sort(keys)
	return keys
}

// SortedColumnBreakdownCounts returns ColumnBreakdown's keys (column
// counts) in ascending order.
func (s *Signature) SortedColumnBreakdownCounts() []int {
	keys := maps.Keys(s.ColumnBreakdown)
	slices.Sort(keys)
	return keys
}
