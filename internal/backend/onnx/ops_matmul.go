package onnx

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/neuropod-go/neuropod/internal/tensor"
)

// gemmKernel computes c = alpha*op(a)*op(b) + beta*c for row-major matrices where
// op(a) is m×k and op(b) is k×n. With transA, a is stored k×m; with transB, b is
// stored n×k.
type gemmKernel[T number] func(transA, transB bool, m, n, k int, alpha T, a, b []T, beta T, c []T)

func (r *Registry) registerMatMulOps() {
	r.Register("MatMul", viaFloat32(handleMatMul))
	r.Register("Gemm", viaFloat32(handleGemm))
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

func general32(trans bool, rows, cols int, data []float32) blas32.General {
	if trans {
		rows, cols = cols, rows
	}
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

func general64(trans bool, rows, cols int, data []float64) blas64.General {
	if trans {
		rows, cols = cols, rows
	}
	return blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

func gemm32(transA, transB bool, m, n, k int, alpha float32, a, b []float32, beta float32, c []float32) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		for i := range c[:m*n] {
			c[i] *= beta
		}
		return
	}
	blas32.Gemm(transpose(transA), transpose(transB), alpha,
		general32(transA, m, k, a), general32(transB, k, n, b),
		beta, blas32.General{Rows: m, Cols: n, Stride: n, Data: c})
}

func gemm64(transA, transB bool, m, n, k int, alpha float64, a, b []float64, beta float64, c []float64) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		for i := range c[:m*n] {
			c[i] *= beta
		}
		return
	}
	blas64.Gemm(transpose(transA), transpose(transB), alpha,
		general64(transA, m, k, a), general64(transB, k, n, b),
		beta, blas64.General{Rows: m, Cols: n, Stride: n, Data: c})
}

func naiveGemm[T number](transA, transB bool, m, n, k int, alpha T, a, b []T, beta T, c []T) {
	for i := range m {
		for j := range n {
			var sum T
			for p := range k {
				av := a[i*k+p]
				if transA {
					av = a[p*m+i]
				}
				bv := b[p*n+j]
				if transB {
					bv = b[j*k+p]
				}
				sum += av * bv
			}
			c[i*n+j] = alpha*sum + beta*c[i*n+j]
		}
	}
}

// matMulShapes applies the numpy matmul rules: 1-D operands are promoted to
// matrices, leading dimensions broadcast. It returns the promoted operand shapes,
// the broadcast batch shape and the final output shape.
func matMulShapes(a, b tensor.Shape) (pa, pb, batch, out tensor.Shape, err error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("%w: MatMul does not accept scalars", tensor.ErrShapeMismatch)
	}
	pa, pb = a.Clone(), b.Clone()
	if len(a) == 1 {
		pa = tensor.Shape{1, a[0]}
	}
	if len(b) == 1 {
		pb = tensor.Shape{b[0], 1}
	}
	ra, rb := len(pa), len(pb)
	if pa[ra-1] != pb[rb-2] {
		return nil, nil, nil, nil, fmt.Errorf("%w: MatMul %v x %v: inner dimensions %d and %d differ",
			tensor.ErrShapeMismatch, a, b, pa[ra-1], pb[rb-2])
	}
	batch, err = tensor.BroadcastShapes(pa[:ra-2], pb[:rb-2])
	if err != nil {
		return nil, nil, nil, nil, err
	}
	out = append(batch.Clone(), pa[ra-2], pb[rb-1])
	if len(a) == 1 {
		out = append(out[:len(out)-2], out[len(out)-1])
	}
	if len(b) == 1 {
		out = out[:len(out)-1]
	}
	return pa, pb, batch, out, nil
}

func matMul[T number](name string, a, b tensor.Tensor, kernel gemmKernel[T]) (tensor.Tensor, error) {
	x, y, err := binaryArgs[T](a, b)
	if err != nil {
		return nil, err
	}
	pa, pb, batch, out, err := matMulShapes(x.Dims(), y.Dims())
	if err != nil {
		return nil, err
	}
	ra, rb := len(pa), len(pb)
	m, k, n := int(pa[ra-2]), int(pa[ra-1]), int(pb[rb-1])
	aBatch, bBatch := pa[:ra-2], pb[:rb-2]

	res := make([]T, out.NumElements())
	xd, yd := x.Data(), y.Data()
	batchStrides, aStrides, bStrides := batch.Strides(), aBatch.Strides(), bBatch.Strides()
	for i := range batch.NumElements() {
		ai, bi := 0, 0
		if len(batch) > 0 {
			ai = tensor.BroadcastIndex(batch, batchStrides, aBatch, aStrides, i)
			bi = tensor.BroadcastIndex(batch, batchStrides, bBatch, bStrides, i)
		}
		kernel(false, false, m, n, k, 1,
			xd[ai*m*k:(ai+1)*m*k], yd[bi*k*n:(bi+1)*k*n],
			0, res[i*m*n:(i+1)*m*n])
	}
	return adopt(name, out, res)
}

// handleMatMul implements numpy-style matrix multiplication.
func handleMatMul(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 2, 2); err != nil {
		return nil, err
	}
	if err := sameType(node, inputs); err != nil {
		return nil, err
	}
	a, b, name := inputs[0], inputs[1], outName(node, 0)
	switch a.Type() {
	case tensor.Float32:
		return single(matMul[float32](name, a, b, gemm32))
	case tensor.Float64:
		return single(matMul[float64](name, a, b, gemm64))
	case tensor.Int32:
		return single(matMul[int32](name, a, b, naiveGemm[int32]))
	case tensor.Int64:
		return single(matMul[int64](name, a, b, naiveGemm[int64]))
	case tensor.Uint32:
		return single(matMul[uint32](name, a, b, naiveGemm[uint32]))
	case tensor.Uint64:
		return single(matMul[uint64](name, a, b, naiveGemm[uint64]))
	default:
		return nil, fmt.Errorf("%w: MatMul does not support %s", tensor.ErrTypeMismatch, a.Type())
	}
}

func gemm[T number](node *NodeProto, inputs []tensor.Tensor, kernel gemmKernel[T]) (tensor.Tensor, error) {
	a, b, err := binaryArgs[T](inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	transA := attrInt(node, "transA", 0) != 0
	transB := attrInt(node, "transB", 0) != 0
	alpha := T(attrFloat(node, "alpha", 1))
	beta := T(attrFloat(node, "beta", 1))

	ad, bd := a.Dims(), b.Dims()
	if len(ad) != 2 || len(bd) != 2 {
		return nil, fmt.Errorf("%w: Gemm requires matrices, got %v and %v", tensor.ErrShapeMismatch, ad, bd)
	}
	m, k := int(ad[0]), int(ad[1])
	if transA {
		m, k = k, m
	}
	kb, n := int(bd[0]), int(bd[1])
	if transB {
		kb, n = n, kb
	}
	if k != kb {
		return nil, fmt.Errorf("%w: Gemm inner dimensions %d and %d differ", tensor.ErrShapeMismatch, k, kb)
	}

	out := tensor.Shape{int64(m), int64(n)}
	res := make([]T, m*n)
	if len(inputs) < 3 || inputs[2] == nil {
		beta = 0
	} else {
		c, err := tensor.As[T](inputs[2])
		if err != nil {
			return nil, err
		}
		cd := c.Dims()
		if shape, err := tensor.BroadcastShapes(cd, out); err != nil || !shape.Equal(out) {
			return nil, fmt.Errorf("%w: Gemm bias %v does not broadcast to %v", tensor.ErrShapeMismatch, cd, out)
		}
		src, outStrides, srcStrides := c.Data(), out.Strides(), cd.Strides()
		for i := range res {
			res[i] = src[tensor.BroadcastIndex(out, outStrides, cd, srcStrides, i)]
		}
	}
	kernel(transA, transB, m, n, k, alpha, a.Data(), b.Data(), beta, res)
	return adopt(outName(node, 0), out, res)
}

// handleGemm implements General Matrix Multiplication: Y = alpha*A*B + beta*C.
func handleGemm(_ *Context, node *NodeProto, inputs []tensor.Tensor) ([]tensor.Tensor, error) {
	if err := wantInputs(node, inputs, 2, 3); err != nil {
		return nil, err
	}
	if err := sameType(node, inputs); err != nil {
		return nil, err
	}
	switch inputs[0].Type() {
	case tensor.Float32:
		return single(gemm[float32](node, inputs, gemm32))
	case tensor.Float64:
		return single(gemm[float64](node, inputs, gemm64))
	case tensor.Int32:
		return single(gemm[int32](node, inputs, naiveGemm[int32]))
	case tensor.Int64:
		return single(gemm[int64](node, inputs, naiveGemm[int64]))
	default:
		return nil, fmt.Errorf("%w: Gemm does not support %s", tensor.ErrTypeMismatch, inputs[0].Type())
	}
}
