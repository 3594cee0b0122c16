// Package migrate is the migration runner: preflight, dependency
// ordering, DDL emission, batched data copy, checkpointing, and cleanup.
package migrate

import "errors"

// Error kinds. Adapters surface raw errors; the runner wraps them in one
// of these so the CLI can map fatality and exit codes without inspecting
// messages.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrConnection         = errors.New("connection error")
	ErrIntrospection      = errors.New("introspection error")
	ErrSchemaEmission     = errors.New("schema emission error")
	ErrDataBatch          = errors.New("data batch error")
	ErrCheckpoint         = errors.New("checkpoint error")
	ErrValidationMismatch = errors.New("validation mismatch")
	ErrCancelled          = errors.New("run cancelled")
)
