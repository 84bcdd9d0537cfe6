// Package tensor holds the dense column-major matrix used throughout the
// pipeline, where every column is one sample and rows are feature indices,
// plus typed (W, H, D) views over single columns.
//
// The buffer layout is exactly the row-major layout of a [samples, features]
// tensor, so conversion to gomlx tensors is a single copy.
package tensor

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrShape is returned when matrix dimensions don't agree.
var ErrShape = errors.New("shape mismatch")

// Matrix is a dense float32 matrix stored column by column.
type Matrix struct {
	rows, cols int
	data       []float32
}

// New returns a zero filled rows x cols matrix.
func New(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		exceptions.Panicf("tensor.New: negative dimensions %dx%d", rows, cols)
	}
	return &Matrix{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// FromData wraps data (column-major) without copying.
func FromData(rows, cols int, data []float32) (*Matrix, error) {
	if len(data) != rows*cols {
		return nil, errors.Wrapf(ErrShape, "%d values can't fill a %dx%d matrix", len(data), rows, cols)
	}
	return &Matrix{rows: rows, cols: cols, data: data}, nil
}

// FromColumns builds a matrix whose j-th column is cols[j].
func FromColumns(cols [][]float32) (*Matrix, error) {
	if len(cols) == 0 {
		return New(0, 0), nil
	}
	m := &Matrix{rows: len(cols[0]), data: make([]float32, 0, len(cols)*len(cols[0]))}
	for _, c := range cols {
		if err := m.AppendCol(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// FromRows builds a matrix whose i-th row is rows[i].
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	m := New(len(rows), len(rows[0]))
	for i, r := range rows {
		if len(r) != m.cols {
			return nil, errors.Wrapf(ErrShape, "row %d has %d values, want %d", i, len(r), m.cols)
		}
		for j, v := range r {
			m.data[j*m.rows+i] = v
		}
	}
	return m, nil
}

// Rows returns the number of features per sample.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of samples.
func (m *Matrix) Cols() int { return m.cols }

// Data returns the underlying column-major buffer.
func (m *Matrix) Data() []float32 { return m.data }

func (m *Matrix) checkIndex(i, j int) {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		exceptions.Panicf("index (%d, %d) out of bounds for %dx%d matrix", i, j, m.rows, m.cols)
	}
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float32 {
	m.checkIndex(i, j)
	return m.data[j*m.rows+i]
}

// Set sets element (i, j).
func (m *Matrix) Set(i, j int, v float32) {
	m.checkIndex(i, j)
	m.data[j*m.rows+i] = v
}

// Col returns column j. The slice aliases the matrix.
func (m *Matrix) Col(j int) []float32 {
	if j < 0 || j >= m.cols {
		exceptions.Panicf("column %d out of bounds for %d columns", j, m.cols)
	}
	return m.data[j*m.rows : (j+1)*m.rows : (j+1)*m.rows]
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float32 {
	if i < 0 || i >= m.rows {
		exceptions.Panicf("row %d out of bounds for %d rows", i, m.rows)
	}
	row := make([]float32, m.cols)
	for j := range row {
		row[j] = m.data[j*m.rows+i]
	}
	return row
}

// AppendCol inserts col as the last column. An empty matrix with no rows
// takes its row count from the first appended column.
func (m *Matrix) AppendCol(col []float32) error {
	if m.cols == 0 && m.rows == 0 {
		m.rows = len(col)
	}
	if len(col) != m.rows {
		return errors.Wrapf(ErrShape, "column has %d values, matrix has %d rows", len(col), m.rows)
	}
	m.data = append(m.data, col...)
	m.cols++
	return nil
}

// SelectCols returns a new matrix with the given columns in the given order.
func (m *Matrix) SelectCols(idx []int) *Matrix {
	out := New(m.rows, len(idx))
	for k, j := range idx {
		copy(out.Col(k), m.Col(j))
	}
	return out
}

// RowRange copies rows first..last inclusive. An empty range (last < first)
// gives a matrix with zero rows.
func (m *Matrix) RowRange(first, last int) (*Matrix, error) {
	if last < first {
		return New(0, m.cols), nil
	}
	if first < 0 || last >= m.rows {
		return nil, errors.Wrapf(ErrShape, "rows %d..%d out of range for %d rows", first, last, m.rows)
	}
	out := New(last-first+1, m.cols)
	for j := 0; j < m.cols; j++ {
		copy(out.Col(j), m.Col(j)[first:last+1])
	}
	return out, nil
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{rows: m.rows, cols: m.cols, data: make([]float32, len(m.data))}
	copy(out.data, m.data)
	return out
}

// Sum adds every element using a float64 accumulator.
func (m *Matrix) Sum() float64 {
	var s float64
	for _, v := range m.data {
		s += float64(v)
	}
	return s
}

// SizeBytes is the memory used by the buffer.
func (m *Matrix) SizeBytes() uint64 { return uint64(len(m.data)) * 4 }

// String prints the dimensions and, for small matrices, the values row by row.
func (m *Matrix) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Matrix(%dx%d, %s)", m.rows, m.cols, humanize.Bytes(m.SizeBytes()))
	if m.rows*m.cols > 64 {
		return sb.String()
	}
	for i := 0; i < m.rows; i++ {
		sb.WriteString("\n ")
		for j := 0; j < m.cols; j++ {
			fmt.Fprintf(&sb, " %8.4f", m.data[j*m.rows+i])
		}
	}
	return sb.String()
}

// ToTensor converts m into a gomlx tensor shaped [cols, rows].
func (m *Matrix) ToTensor() *tensors.Tensor {
	flat := make([]float32, len(m.data))
	copy(flat, m.data)
	return tensors.FromFlatDataAndDimensions(flat, m.cols, m.rows)
}

// FromTensor converts a rank-2 float32 tensor shaped [samples, features].
func FromTensor(t *tensors.Tensor) (*Matrix, error) {
	shape := t.Shape()
	if shape.DType != dtypes.Float32 || shape.Rank() != 2 {
		return nil, errors.Wrapf(ErrShape, "want a rank-2 float32 tensor, got %s", shape)
	}
	flat := tensors.CopyFlatData[float32](t)
	return FromData(shape.Dimensions[1], shape.Dimensions[0], flat)
}
