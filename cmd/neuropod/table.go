package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/x448/float16"

	"github.com/neuropod-go/neuropod/tensor"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func specRows(kind string, specs []tensor.Spec) [][]string {
	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		rows = append(rows, []string{kind, s.Name, s.Type.String(), s.ShapeString()})
	}
	return rows
}

// previewLen is the number of leading elements shown for a tensor.
const previewLen = 6

// preview formats the first elements of t.
func preview(t tensor.Tensor) string {
	switch t.Type() {
	case tensor.Float16:
		v, err := tensor.As[float16.Float16](t)
		if err != nil {
			return "?"
		}
		data := v.Data()
		widened := make([]float32, min(len(data), previewLen))
		for i := range widened {
			widened[i] = data[i].Float32()
		}
		return formatValues(widened, len(data))
	case tensor.Float32:
		return previewOf[float32](t)
	case tensor.Float64:
		return previewOf[float64](t)
	case tensor.Int8:
		return previewOf[int8](t)
	case tensor.Int16:
		return previewOf[int16](t)
	case tensor.Int32:
		return previewOf[int32](t)
	case tensor.Int64:
		return previewOf[int64](t)
	case tensor.Uint8:
		return previewOf[uint8](t)
	case tensor.Uint16:
		return previewOf[uint16](t)
	case tensor.Uint32:
		return previewOf[uint32](t)
	case tensor.Uint64:
		return previewOf[uint64](t)
	case tensor.Bool:
		return previewOf[bool](t)
	case tensor.String:
		v, err := tensor.As[string](t)
		if err != nil {
			return "?"
		}
		data := v.Data()
		quoted := make([]string, min(len(data), previewLen))
		for i := range quoted {
			quoted[i] = fmt.Sprintf("%q", data[i])
		}
		return formatValues(quoted, len(data))
	}
	return "?"
}

func previewOf[T tensor.Element](t tensor.Tensor) string {
	v, err := tensor.As[T](t)
	if err != nil {
		return "?"
	}
	data := v.Data()
	return formatValues(data[:min(len(data), previewLen)], len(data))
}

func formatValues[T any](head []T, total int) string {
	s := fmt.Sprint(head)
	if total > len(head) {
		s = strings.TrimSuffix(s, "]") + " ...]"
	}
	return s
}
