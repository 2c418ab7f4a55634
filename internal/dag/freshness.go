package dag

// Freshness says whether a unit's outputs are already up to date.
type Freshness int

const (
	Fresh Freshness = iota
	Dirty
)

// Combine returns Dirty if either operand is Dirty. The result does not
// depend on the order in which dependencies finish.
func (f Freshness) Combine(other Freshness) Freshness {
	if f == Dirty || other == Dirty {
		return Dirty
	}
	return Fresh
}

func (f Freshness) String() string {
	if f == Dirty {
		return "dirty"
	}
	return "fresh"
}
