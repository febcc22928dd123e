// Package export writes posterior draws to Arrow IPC streams so they
// can be analyzed outside Go (pandas, polars, R arrow).
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"maskfit/internal/hmc"
)

// WriteDraws writes every retained draw to an Arrow IPC stream at path,
// one record batch per chain. The schema is chain, draw, then one
// float64 column per parameter name.
func WriteDraws(path string, names []string, res *hmc.Result) error {
	if res == nil || len(res.Chains) == 0 {
		return fmt.Errorf("no draws to export")
	}
	if res.TotalDraws() == 0 {
		return fmt.Errorf("no draws to export")
	}
	if len(names) != res.Dim() {
		return fmt.Errorf("have %d parameter names for %d parameters", len(names), res.Dim())
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	mem := memory.NewGoAllocator()
	schema := drawSchema(names)
	w := ipc.NewWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))

	bld := array.NewRecordBuilder(mem, schema)
	defer bld.Release()

	for ci, chain := range res.Chains {
		n := len(chain.Draws)
		chainCol := make([]int32, n)
		drawCol := make([]int32, n)
		for i := range chainCol {
			chainCol[i] = int32(ci)
			drawCol[i] = int32(i)
		}
		bld.Field(0).(*array.Int32Builder).AppendValues(chainCol, nil)
		bld.Field(1).(*array.Int32Builder).AppendValues(drawCol, nil)

		col := make([]float64, n)
		for d := 0; d < len(names); d++ {
			for i, draw := range chain.Draws {
				col[i] = draw[d]
			}
			bld.Field(2 + d).(*array.Float64Builder).AppendValues(col, nil)
		}

		rec := bld.NewRecord()
		werr := w.Write(rec)
		rec.Release()
		if werr != nil {
			w.Close()
			return fmt.Errorf("failed to write chain %d: %w", ci, werr)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close export stream: %w", err)
	}
	return nil
}

// ReadDraws reads a stream written by WriteDraws and returns the
// parameter names and the draws grouped per chain.
func ReadDraws(path string) ([]string, [][][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer f.Close()

	r, err := ipc.NewReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read export stream: %w", err)
	}
	defer r.Release()

	schema := r.Schema()
	if schema.NumFields() < 3 || schema.Field(0).Name != "chain" || schema.Field(1).Name != "draw" {
		return nil, nil, fmt.Errorf("unexpected schema in %s", path)
	}
	names := make([]string, schema.NumFields()-2)
	for i := range names {
		names[i] = schema.Field(i + 2).Name
	}

	var chains [][][]float64
	for r.Next() {
		rec := r.Record()
		n := int(rec.NumRows())
		draws := make([][]float64, n)

		chainIDs := rec.Column(0).(*array.Int32)
		params := make([]*array.Float64, len(names))
		for d := range names {
			params[d] = rec.Column(2 + d).(*array.Float64)
		}
		for i := 0; i < n; i++ {
			if int(chainIDs.Value(i)) != len(chains) {
				return nil, nil, fmt.Errorf("chain column out of order at row %d", i)
			}
			row := make([]float64, len(names))
			for d := range row {
				row[d] = params[d].Value(i)
			}
			draws[i] = row
		}
		chains = append(chains, draws)
	}
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read export stream: %w", err)
	}
	if len(chains) == 0 {
		return nil, nil, fmt.Errorf("export file %s has no draws", path)
	}
	return names, chains, nil
}

func drawSchema(names []string) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(names)+2)
	fields = append(fields,
		arrow.Field{Name: "chain", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "draw", Type: arrow.PrimitiveTypes.Int32},
	)
	for _, name := range names {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64})
	}
	return arrow.NewSchema(fields, nil)
}
