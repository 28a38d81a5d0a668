package layer

// Plugin rewrites an operation of type Op. A server plugin might add an
// instrumentation layer to every operation it sees.
type Plugin[Op any] interface {
	Map(op Op) Op
}

// PluginFunc adapts a function to Plugin.
type PluginFunc[Op any] func(op Op) Op

func (f PluginFunc[Op]) Map(op Op) Op { return f(op) }

// Pluggable is implemented by builders that accept plugins. Apply returns a
// new builder; the receiver is unchanged.
type Pluggable[Op any, B any] interface {
	Apply(p Plugin[Op]) B
}

// Plugins is an ordered plugin list. It is itself a Plugin that applies its
// members in insertion order.
type Plugins[Op any] struct {
	list []Plugin[Op]
}

// NewPlugins returns a list of ps in order. Nil plugins are skipped.
func NewPlugins[Op any](ps ...Plugin[Op]) Plugins[Op] {
	var out Plugins[Op]
	for _, p := range ps {
		out = out.Apply(p)
	}
	return out
}

// Apply returns a new list with p appended.
func (ps Plugins[Op]) Apply(p Plugin[Op]) Plugins[Op] {
	if p == nil {
		return ps
	}
	next := make([]Plugin[Op], len(ps.list), len(ps.list)+1)
	copy(next, ps.list)
	return Plugins[Op]{list: append(next, p)}
}

// Map applies every plugin to op, first added first.
func (ps Plugins[Op]) Map(op Op) Op {
	for _, p := range ps.list {
		op = p.Map(op)
	}
	return op
}

func (ps Plugins[Op]) Len() int { return len(ps.list) }
