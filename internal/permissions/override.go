package permissions

// Override short-circuits resolution with a fixed set. The interface is
// sealed: the only implementation lives in override_dev.go, which is
// excluded from builds tagged production.
type Override interface {
	bits() (Set, bool)
}
