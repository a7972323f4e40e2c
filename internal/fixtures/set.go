package fixtures

// Set is an ordered collection of units with unique names. Insertion order
// is load order.
type Set struct {
	units []Unit
	index map[string]int
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add appends u unless a unit with the same name is already present. It
// reports whether u was added.
func (s *Set) Add(u Unit) bool {
	name := u.Name()
	if _, ok := s.index[name]; ok {
		return false
	}
	s.index[name] = len(s.units)
	s.units = append(s.units, u)
	return true
}

// Contains reports whether a unit named name is present.
func (s *Set) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Units returns the units in load order.
func (s *Set) Units() []Unit {
	out := make([]Unit, len(s.units))
	copy(out, s.units)
	return out
}

// Names returns the unit names in load order.
func (s *Set) Names() []string {
	names := make([]string, len(s.units))
	for i, u := range s.units {
		names[i] = u.Name()
	}
	return names
}

// Len returns the number of units.
func (s *Set) Len() int { return len(s.units) }

// Tables returns the distinct tables declared by the units, in first-seen
// order.
func (s *Set) Tables() []string {
	seen := make(map[string]bool)
	var tables []string
	for _, u := range s.units {
		for _, t := range TablesOf(u) {
			if !seen[t] {
				seen[t] = true
				tables = append(tables, t)
			}
		}
	}
	return tables
}
