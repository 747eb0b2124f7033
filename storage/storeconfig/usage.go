package storeconfig

// Usage restricts which programs accept a given backend.
//
// Backends are linked at build time: a backend registers itself via init()
// and is enabled in a binary by importing its package (often as a blank
// import).
type Usage uint8

const (
	// UsageCLI marks backends available to auriactl.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends available to long-running nodes and auria-blobd.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
