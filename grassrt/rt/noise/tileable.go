package noise

import "math"

// Tileable wraps a field so that it repeats every Size units on both axes.
// Each query blends the four samples (u,v), (u+T,v), (u,v+T) and (u+T,v+T)
// with bilinear weights, which makes the value on the u=0 edge identical to
// the value on the u=T edge (and likewise for v).
type Tileable struct {
	Field Field
	Size  float64
}

func (t Tileable) Eval(u, v float64) float64 {
	s := t.Size
	u, v = wrapClosed(u, s), wrapClosed(v, s)

	a := t.Field.Eval(u, v)
	b := t.Field.Eval(u+s, v)
	c := t.Field.Eval(u, v+s)
	d := t.Field.Eval(u+s, v+s)

	return (a*u*v + b*(s-u)*v + c*u*(s-v) + d*(s-u)*(s-v)) / (s * s)
}

// wrapClosed folds x into [0, s], keeping s itself so both seam edges can be
// evaluated directly.
func wrapClosed(x, s float64) float64 {
	if x >= 0 && x <= s {
		return x
	}
	x = math.Mod(x, s)
	if x < 0 {
		x += s
	}
	return x
}
