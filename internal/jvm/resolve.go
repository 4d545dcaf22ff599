package jvm

// Match is the outcome of resolving a runtime for one installation.
// Every field may be empty on its own.
type Match struct {
	Version       string `json:"detected_version,omitempty"`
	RequiredMajor int    `json:"required_major,omitempty"`
	Binary        string `json:"runtime_binary,omitempty"`
}

// Found reports whether a matching java binary was located.
func (m Match) Found() bool {
	return m.Binary != ""
}

// Resolve detects the game version of dir and looks up a runtime for it.
// It never fails: an undetectable version yields an empty Match, and a
// missing runtime leaves Binary empty.
func (r *Resolver) Resolve(dir string) Match {
	version, ok := DetectVersion(dir)
	if !ok {
		return Match{}
	}
	match := Match{
		Version:       version,
		RequiredMajor: RequiredMajor(version),
	}
	if bin, ok := r.FindJava(match.RequiredMajor); ok {
		match.Binary = bin
	}
	return match
}

var defaultResolver = NewResolver()

// Resolve uses a resolver bound to the host environment.
func Resolve(dir string) Match {
	return defaultResolver.Resolve(dir)
}
