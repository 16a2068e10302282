package skeleton

// FaceTargets is an ordered morph target table. The order is fixed when
// the AgentSpec is read and is the positional order of face weights in every
// AGENT_STATE.
type FaceTargets struct {
	names   []string
	weights []float32
	index   map[string]int
}

// NewFaceTargets creates the table with every weight at 0. A repeated
// name keeps its first position.
func NewFaceTargets(names []string) *FaceTargets {
	f := &FaceTargets{
		names:   make([]string, 0, len(names)),
		weights: make([]float32, 0, len(names)),
		index:   make(map[string]int, len(names)),
	}
	for _, n := range names {
		if _, ok := f.index[n]; ok {
			continue
		}
		f.index[n] = len(f.names)
		f.names = append(f.names, n)
		f.weights = append(f.weights, 0)
	}
	return f
}

func (f *FaceTargets) Len() int {
	if f == nil {
		return 0
	}
	return len(f.names)
}

// Names returns a copy of the target names in table order.
func (f *FaceTargets) Names() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.names...)
}

// Weights returns the live weights in table order. Callers must not keep it.
func (f *FaceTargets) Weights() []float32 {
	if f == nil {
		return nil
	}
	return f.weights
}

func (f *FaceTargets) Has(name string) bool {
	if f == nil {
		return false
	}
	_, ok := f.index[name]
	return ok
}

// Weight returns the current weight, 0 for unknown names.
func (f *FaceTargets) Weight(name string) float32 {
	if f == nil {
		return 0
	}
	if i, ok := f.index[name]; ok {
		return f.weights[i]
	}
	return 0
}

// Set replaces weights of known targets and returns how many were applied.
// Unknown names are ignored.
func (f *FaceTargets) Set(names []string, weights []float32) int {
	return f.apply(names, weights, func(_, w float32) float32 { return w })
}

// Add adds to the weights of known targets.
func (f *FaceTargets) Add(names []string, weights []float32) int {
	return f.apply(names, weights, func(cur, w float32) float32 { return cur + w })
}

// Remove subtracts from the weights of known targets.
func (f *FaceTargets) Remove(names []string, weights []float32) int {
	return f.apply(names, weights, func(cur, w float32) float32 { return cur - w })
}

func (f *FaceTargets) apply(names []string, weights []float32, op func(cur, w float32) float32) int {
	if f == nil {
		return 0
	}
	n := min(len(names), len(weights))
	applied := 0
	for i := 0; i < n; i++ {
		j, ok := f.index[names[i]]
		if !ok {
			continue
		}
		f.weights[j] = op(f.weights[j], weights[i])
		applied++
	}
	return applied
}
