package nest

// InvalidOperationError rejects a command inconsistent with the device's
// mode or capability before any network I/O happens.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return "invalid operation: " + e.Reason
}
