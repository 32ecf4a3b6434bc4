package controller

import "sort"

// Indicator receives the pressed state of a button on every report, edge or
// not, so a view can refresh idempotently.
type Indicator interface {
	SetPressed(button string, pressed bool)
}

type nopIndicator struct{}

func (nopIndicator) SetPressed(string, bool) {}

// Edge is a pressed/released transition of one logical button.
type Edge struct {
	Button  string
	Pressed bool
}

// Aggregator tracks which input sources hold each button down. A button is
// pressed iff its source set is non-empty.
type Aggregator struct {
	sources   map[string]map[string]struct{}
	indicator Indicator
}

func NewAggregator(indicator Indicator) *Aggregator {
	if nil == indicator {
		indicator = nopIndicator{}
	}
	sources := make(map[string]map[string]struct{}, len(buttons))
	for _, b := range buttons {
		sources[b.Name] = make(map[string]struct{})
	}
	return &Aggregator{
		sources:   sources,
		indicator: indicator,
	}
}

// Report adds or removes source from the button's set and returns the edge,
// if any, that the change produced.
func (a *Aggregator) Report(button, source string, active bool) (Edge, bool) {
	set, ok := a.sources[button]
	if !ok {
		return Edge{}, false
	}
	wasPressed := len(set) > 0
	if active {
		set[source] = struct{}{}
	} else {
		delete(set, source)
	}
	isPressed := len(set) > 0

	a.indicator.SetPressed(button, isPressed)
	if wasPressed == isPressed {
		return Edge{}, false
	}
	return Edge{Button: button, Pressed: isPressed}, true
}

// ReleaseAll clears every source set and returns a release edge for each
// button that was held, in bit order.
func (a *Aggregator) ReleaseAll() []Edge {
	var edges []Edge
	for _, b := range buttons {
		set := a.sources[b.Name]
		if len(set) == 0 {
			continue
		}
		for k := range set {
			delete(set, k)
		}
		a.indicator.SetPressed(b.Name, false)
		edges = append(edges, Edge{Button: b.Name, Pressed: false})
	}
	return edges
}

// Reset clears every source set and indicator without producing edges.
func (a *Aggregator) Reset() {
	for _, b := range buttons {
		set := a.sources[b.Name]
		for k := range set {
			delete(set, k)
		}
		a.indicator.SetPressed(b.Name, false)
	}
}

func (a *Aggregator) Pressed(button string) bool {
	return len(a.sources[button]) > 0
}

func (a *Aggregator) Sources(button string) []string {
	set := a.sources[button]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
