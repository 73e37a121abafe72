// Package registry implements the in-memory, multi-sourced instance
// registry: the authoritative view of which service instances exist,
// fused across concurrent registrations from distinct sources, with a
// filtered change-notification fabric for subscribers.
package registry

import "fmt"

// Origin tags where a registration came from.
type Origin int

const (
	// Local is a registration from a client directly attached to this node.
	Local Origin = iota
	// Replicated is a registration mirrored in from a peer node.
	Replicated
	// Bootstrap is a registration seeded at startup (e.g. from a config file
	// or a warm-start snapshot).
	Bootstrap
	// InterestOrigin is a registration made on behalf of an interested
	// observer.
	InterestOrigin
)

func (o Origin) String() string {
	switch o {
	case Local:
		return "LOCAL"
	case Replicated:
		return "REPLICATED"
	case Bootstrap:
		return "BOOTSTRAP"
	case InterestOrigin:
		return "INTEREST"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// Source is a tagged, immutable origin for a registration. Two sources are
// equal iff both Origin and Name match.
type Source struct {
	Origin Origin
	Name   string
}

// Equal reports whether s and other identify the same source.
func (s Source) Equal(other Source) bool {
	return s.Origin == other.Origin && s.Name == other.Name
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%s", s.Origin, s.Name)
}
