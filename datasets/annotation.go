package datasets

import "github.com/pkg/errors"

// Annotation holds every bounding box of one image as concatenated
// (class, x1, y1, x2, y2) tuples.
type Annotation []float32

// Box is one labelled bounding box in pixel corners.
type Box struct {
	Class          int
	X1, Y1, X2, Y2 float32
}

// Boxes is the number of tuples.
func (a Annotation) Boxes() int { return len(a) / 5 }

// Box returns tuple i.
func (a Annotation) Box(i int) Box {
	t := a[5*i : 5*i+5]
	return Box{Class: int(t[0]), X1: t[1], Y1: t[2], X2: t[3], Y2: t[4]}
}

// Append adds b to the annotation.
func (a Annotation) Append(b Box) Annotation {
	return append(a, float32(b.Class), b.X1, b.Y1, b.X2, b.Y2)
}

// Mirror returns a copy of a with every box flipped inside a width x height
// image: left to right when horizontal, top to bottom when vertical.
func (a Annotation) Mirror(width, height float32, horizontal, vertical bool) Annotation {
	out := make(Annotation, 0, len(a))
	for i := 0; i < a.Boxes(); i++ {
		b := a.Box(i)
		if horizontal {
			b.X1, b.X2 = width-b.X2, width-b.X1
		}
		if vertical {
			b.Y1, b.Y2 = height-b.Y2, height-b.Y1
		}
		out = out.Append(b)
	}
	return out
}

// Validate checks the length is a multiple of 5.
func (a Annotation) Validate() error {
	if len(a)%5 != 0 {
		return errors.Errorf("annotation has %d values, want a multiple of 5", len(a))
	}
	return nil
}

// Annotations holds one record per feature column.
type Annotations []Annotation

// Floats returns the records as plain slices, the form yolo.Encode takes.
func (as Annotations) Floats() [][]float32 {
	out := make([][]float32, len(as))
	for i, a := range as {
		out[i] = a
	}
	return out
}

// Select gathers records in the given order.
func (as Annotations) Select(idx []int) Annotations {
	out := make(Annotations, len(idx))
	for k, i := range idx {
		out[k] = as[i]
	}
	return out
}

// ClassCounts counts boxes per class label.
func (as Annotations) ClassCounts(numClasses int) []int {
	counts := make([]int, numClasses)
	for _, a := range as {
		for i := 0; i < a.Boxes(); i++ {
			if c := a.Box(i).Class; c >= 0 && c < numClasses {
				counts[c]++
			}
		}
	}
	return counts
}
