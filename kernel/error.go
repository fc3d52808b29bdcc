package kernel

// Error describes a kernel error. All kernel errors are declared as global
// variables that point to an Error value and callers compare them by
// identity. The Module field names the subsystem that raised the error.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error message prefixed with the module name, using the
// same "[module] message" layout as the rest of the kernel diagnostics.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
