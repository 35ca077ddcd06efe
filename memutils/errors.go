package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// ErrOutOfMemory marks allocation failures caused by the heap being unable to grow. The heap is
	// left exactly as it was before the failed call.
	ErrOutOfMemory error = errors.New("out of memory")
	// ErrInitFailed marks a heap whose initial growth was rejected. The heap cannot be used afterward.
	ErrInitFailed error = errors.New("heap initialization failed")
	// ErrAlreadyInitialized is returned when Init is called on a heap a second time
	ErrAlreadyInitialized error = errors.New("heap is already initialized")
	// ErrNotInitialized is returned by heap operations invoked before Init has succeeded
	ErrNotInitialized error = errors.New("heap is not initialized")
	// ErrInvalidSize is returned when a negative size is passed to an allocation method
	ErrInvalidSize error = errors.New("size must not be negative")
)
