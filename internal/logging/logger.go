package logging

// Logger is the structured logger used across the module.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Info(string, map[string]any)  {}
func (Nop) Error(string, map[string]any) {}
