// Package ndarray provides a minimal row-major n-dimensional float64 array
// with explicit shapes and axes. Batch computations in the analysis packages
// treat the trailing (or a chosen) axis as the record axis and every other
// axis as a batch axis.
package ndarray

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrShape      = errors.New("ndarray: shape mismatch")
	ErrNotNumeric = errors.New("ndarray: non-numeric value")
	ErrAxis       = fmt.Errorf("%w: axis out of range", ErrShape)
)

// Array is an n-dimensional array of float64 stored in row-major order.
// A zero-dimensional array holds exactly one value.
type Array struct {
	shape []int
	data  []float64
}

// New creates an array with the given shape backed by data. The data slice is
// used directly, not copied.
func New(shape []int, data []float64) (*Array, error) {
	size := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension %d", ErrShape, d)
		}
		size *= d
	}
	if size != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, shape, size, len(data))
	}
	return &Array{shape: copyInts(shape), data: data}, nil
}

// Zeros creates a zero-filled array
func Zeros(shape ...int) *Array {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Array{shape: copyInts(shape), data: make([]float64, size)}
}

// Scalar creates a zero-dimensional array
func Scalar(v float64) *Array {
	return &Array{shape: []int{}, data: []float64{v}}
}

// Vector creates a one-dimensional array from a copy of values
func Vector(values []float64) *Array {
	data := make([]float64, len(values))
	copy(data, values)
	return &Array{shape: []int{len(values)}, data: data}
}

// FromRows creates a two-dimensional array. All rows must have equal length.
func FromRows(rows [][]float64) (*Array, error) {
	if len(rows) == 0 {
		return &Array{shape: []int{0, 0}, data: []float64{}}, nil
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrShape, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return &Array{shape: []int{len(rows), cols}, data: data}, nil
}

// FromMatrix copies a gonum matrix into a two-dimensional array
func FromMatrix(m mat.Matrix) *Array {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return &Array{shape: []int{r, c}, data: data}
}

// Shape returns a copy of the array's shape
func (a *Array) Shape() []int {
	return copyInts(a.shape)
}

// NDim returns the number of dimensions
func (a *Array) NDim() int {
	return len(a.shape)
}

// Size returns the total number of elements
func (a *Array) Size() int {
	return len(a.data)
}

// Data returns the backing slice in row-major order
func (a *Array) Data() []float64 {
	return a.data
}

// Dim returns the length of axis, which may be negative to count from the end
func (a *Array) Dim(axis int) (int, error) {
	ax, err := NormalizeAxis(axis, len(a.shape))
	if err != nil {
		return 0, err
	}
	return a.shape[ax], nil
}

// At returns the element at the given index
func (a *Array) At(idx ...int) float64 {
	return a.data[a.offset(idx)]
}

// Set stores v at the given index
func (a *Array) Set(v float64, idx ...int) {
	a.data[a.offset(idx)] = v
}

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: %d indices for %d-dimensional array", len(idx), len(a.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			panic(fmt.Sprintf("ndarray: index %d out of range for axis %d with size %d", v, i, a.shape[i]))
		}
		off = off*a.shape[i] + v
	}
	return off
}

// Float returns the single value of a zero-dimensional array
func (a *Array) Float() (float64, bool) {
	if len(a.shape) != 0 {
		return 0, false
	}
	return a.data[0], true
}

// Clone returns a deep copy
func (a *Array) Clone() *Array {
	data := make([]float64, len(a.data))
	copy(data, a.data)
	return &Array{shape: copyInts(a.shape), data: data}
}

// Reshape returns an array sharing the same data with a new shape
func (a *Array) Reshape(shape ...int) (*Array, error) {
	return New(shape, a.data)
}

// Map returns a new array with f applied to every element
func (a *Array) Map(f func(float64) float64) *Array {
	out := a.Clone()
	for i, v := range out.data {
		out.data[i] = f(v)
	}
	return out
}

// Matrix converts a two-dimensional array into a gonum dense matrix
func (a *Array) Matrix() (*mat.Dense, error) {
	if len(a.shape) != 2 {
		return nil, fmt.Errorf("%w: need 2 dimensions, got %d", ErrShape, len(a.shape))
	}
	if a.shape[0] == 0 || a.shape[1] == 0 {
		return nil, fmt.Errorf("%w: empty matrix", ErrShape)
	}
	data := make([]float64, len(a.data))
	copy(data, a.data)
	return mat.NewDense(a.shape[0], a.shape[1], data), nil
}

// BroadcastTo expands the array to shape following numpy broadcasting rules.
// Broadcasting is one-directional: every dimension of the array must either
// equal the target dimension or be 1.
func (a *Array) BroadcastTo(shape []int) (*Array, error) {
	if len(a.shape) > len(shape) {
		return nil, fmt.Errorf("%w: cannot broadcast %v to %v", ErrShape, a.shape, shape)
	}

	// Source strides aligned to the right of the target shape, 0 on broadcast axes.
	lead := len(shape) - len(a.shape)
	strides := make([]int, len(shape))
	stride := 1
	for i := len(a.shape) - 1; i >= 0; i-- {
		switch a.shape[i] {
		case shape[lead+i]:
			strides[lead+i] = stride
		case 1:
			strides[lead+i] = 0
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v to %v", ErrShape, a.shape, shape)
		}
		stride *= a.shape[i]
	}

	out := Zeros(shape...)
	idx := make([]int, len(shape))
	for i := range out.data {
		src := 0
		for d, v := range idx {
			src += v * strides[d]
		}
		out.data[i] = a.data[src]

		// Advance the multi-index in row-major order.
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// Reduce applies fn to every one-dimensional lane along axis. The result has
// the array's shape with axis removed. The lane slice passed to fn is reused
// between calls.
func (a *Array) Reduce(axis int, fn func(lane []float64) (float64, error)) (*Array, error) {
	ax, err := NormalizeAxis(axis, len(a.shape))
	if err != nil {
		return nil, err
	}

	n := a.shape[ax]
	outer := 1
	for _, d := range a.shape[:ax] {
		outer *= d
	}
	inner := 1
	for _, d := range a.shape[ax+1:] {
		inner *= d
	}

	outShape := make([]int, 0, len(a.shape)-1)
	outShape = append(outShape, a.shape[:ax]...)
	outShape = append(outShape, a.shape[ax+1:]...)
	out := Zeros(outShape...)

	lane := make([]float64, n)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*n*inner + i
			for k := 0; k < n; k++ {
				lane[k] = a.data[base+k*inner]
			}
			v, err := fn(lane)
			if err != nil {
				return nil, err
			}
			out.data[o*inner+i] = v
		}
	}
	return out, nil
}

// Nested converts the array into nested []any slices suitable for JSON
// encoding. Non-finite values are encoded as the strings "inf", "-inf" and
// "nan". A zero-dimensional array becomes a single value.
func (a *Array) Nested() any {
	if len(a.shape) == 0 {
		return EncodeFloat(a.data[0])
	}
	v, _ := a.nested(0, 0)
	return v
}

func (a *Array) nested(axis, off int) (any, int) {
	n := a.shape[axis]
	out := make([]any, n)
	if axis == len(a.shape)-1 {
		for i := 0; i < n; i++ {
			out[i] = EncodeFloat(a.data[off+i])
		}
		return out, off + n
	}
	for i := 0; i < n; i++ {
		out[i], off = a.nested(axis+1, off)
	}
	return out, off
}

// EncodeFloat returns f as is when finite, otherwise its string spelling
func EncodeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return f
	}
}

// NormalizeAxis maps a possibly negative axis onto [0, ndim)
func NormalizeAxis(axis, ndim int) (int, error) {
	if axis < -ndim || axis >= ndim {
		return 0, fmt.Errorf("%w: axis %d for %d-dimensional array", ErrAxis, axis, ndim)
	}
	if axis < 0 {
		axis += ndim
	}
	return axis, nil
}

func copyInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
