package script

// Runtime evaluates scripts with the given variables bound as globals.
type Runtime interface {
	RunScript(script string, variables map[string]any) (any, error)
}
