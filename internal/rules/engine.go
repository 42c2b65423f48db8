package rules

// Engine decides whether a raw state-change event is in monitoring scope.
type Engine interface {
	Match(event map[string]interface{}) bool
}

// AllowAll admits every event; used when scope rules are disabled.
type AllowAll struct{}

// Match always reports true.
func (AllowAll) Match(event map[string]interface{}) bool {
	return true
}
