// Copyright 2025 The Neuropod Go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package neuropod

import (
	"github.com/neuropod-go/neuropod/internal/backend"
	"github.com/neuropod-go/neuropod/internal/manifest"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// Errors returned by the façade, its builders, output maps and backends.
// Match them with errors.Is.
var (
	ErrShapeMismatch  = tensor.ErrShapeMismatch
	ErrTypeMismatch   = tensor.ErrTypeMismatch
	ErrDuplicateName  = tensor.ErrDuplicateName
	ErrInvalidState   = tensor.ErrInvalidState
	ErrKeyNotFound    = tensor.ErrKeyNotFound
	ErrMissingInput   = backend.ErrMissingInput
	ErrUnknownBackend = backend.ErrUnknownBackend
	ErrLoad           = manifest.ErrLoad
)

// LoadError describes a failed Load. It matches ErrLoad and unwraps to its cause.
type LoadError = manifest.LoadError
