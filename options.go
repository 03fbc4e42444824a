// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package neuropod

// Option configures Load.
type Option func(*options)

type options struct {
	backend     string
	parallelism int
	strictOps   bool
}

// WithBackend selects the engine by registered name instead of by the package platform.
func WithBackend(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithParallelism bounds the goroutines one Infer call may use.
// 0, the default, means one per CPU; 1 runs sequentially.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = max(n, 0) }
}

// WithStrictOps makes Load fail when the model uses operations the engine cannot
// run. By default such models load and fail at Infer.
func WithStrictOps(strict bool) Option {
	return func(o *options) { o.strictOps = strict }
}
