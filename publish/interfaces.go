package publish

// RelayProvider supplies the relay set outgoing events are sent to.
type RelayProvider interface {
	RelayURLs() []string
}
