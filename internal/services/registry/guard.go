package registry

// Guard is the scoped handle for one registered path. Exactly one of
// Complete or Release takes effect; later calls are no-ops.
type Guard struct {
	path     string
	registry *Registry
	done     bool
}

// Path returns the guarded destination path.
func (g *Guard) Path() string {
	return g.path
}

// Complete marks the operation as finished successfully. The path leaves the
// registry and nothing on disk is touched.
func (g *Guard) Complete() {
	if g.done {
		return
	}
	g.done = true
	g.registry.remove(g.path)
}

// Release ends the guard without success, typically via defer. Without an
// interrupt the path simply leaves the registry and the caller owns any
// cleanup. Under an interrupt the path stays registered so Cleanup can find
// it, since unwinding may not finish before the process exits.
func (g *Guard) Release() {
	if g.done {
		return
	}
	g.done = true
	if g.registry.interrupt.IsInterrupted() {
		return
	}
	g.registry.remove(g.path)
}
