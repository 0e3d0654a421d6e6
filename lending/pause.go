package lending

const moduleName = "lending"

// PauseView reports whether a module's state transitions are halted by
// governance intervention.
type PauseView interface {
	IsPaused(module string) bool
}

func guard(p PauseView) error {
	if p == nil {
		return nil
	}
	if p.IsPaused(moduleName) {
		return ErrModulePaused
	}
	return nil
}
