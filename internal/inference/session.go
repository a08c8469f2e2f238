// Package inference wraps the serialized-network runtime behind a minimal
// tensor-in/tensor-out interface. The solving pipeline only ever needs
// "given input tensors, return output tensors"; everything ONNX-specific
// stays behind Session so tests can substitute fakes.
package inference

import "fmt"

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor builds a tensor and validates that the data length matches the
// shape's element count.
func NewTensor(shape []int64, data []float32) (Tensor, error) {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	if int64(len(data)) != n {
		return Tensor{}, fmt.Errorf("tensor data length %d does not match shape %v", len(data), shape)
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// Session executes forward passes of one loaded network. Implementations
// must be safe for sequential reuse across many challenges.
type Session interface {
	// Run feeds one tensor per model input, in model input order, and
	// returns one tensor per model output.
	Run(inputs []Tensor) ([]Tensor, error)
	Close() error
}
