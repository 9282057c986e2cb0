package logger

// NoOp is a logger that discards everything. Used in tests and as a
// fallback before configuration is loaded.
type NoOp struct{}

// NewNoOp creates a no-op logger.
func NewNoOp() Interface {
	return &NoOp{}
}

func (n *NoOp) Debug(msg string, fields ...any) {}
func (n *NoOp) Info(msg string, fields ...any)  {}
func (n *NoOp) Warn(msg string, fields ...any)  {}
func (n *NoOp) Error(msg string, fields ...any) {}
func (n *NoOp) Fatal(msg string, fields ...any) {}

// With returns the same no-op logger.
func (n *NoOp) With(fields ...any) Interface { return n }
