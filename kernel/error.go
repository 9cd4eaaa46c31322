// Package kernel provides the types shared by all kernel subsystems.
package kernel

// Error describes an error condition detected by a kernel subsystem.
type Error struct {
	// Module is the name of the subsystem where the error occurred.
	Module string

	// Message describes the error.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}
