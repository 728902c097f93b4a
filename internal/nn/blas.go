package nn

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemm computes c = alpha*op(a)*op(b) + beta*c on row-major float32 slices,
// where op(a) is m×k, op(b) is k×n and c is m×n.
//
// When transA is set, a is stored as k×m; when transB is set, b is stored as n×k.
func gemm(transA, transB bool, m, n, k int, alpha float32, a, b []float32, beta float32, c []float32) {
	ta, ga := blas.NoTrans, blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	if transA {
		ta, ga = blas.Trans, blas32.General{Rows: k, Cols: m, Stride: m, Data: a}
	}
	tb, gb := blas.NoTrans, blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	if transB {
		tb, gb = blas.Trans, blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: c}

	blas32.Gemm(ta, tb, alpha, ga, gb, beta, gc)
}
