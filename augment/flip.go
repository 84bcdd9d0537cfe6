package augment

import "github.com/Noofbiz/modelzoo/tensor"

// FlipHorizontal returns a copy of ds with every sample mirrored left to right.
func FlipHorizontal(ds *tensor.Matrix, g Geometry) (*tensor.Matrix, error) {
	if err := g.Check(ds); err != nil {
		return nil, err
	}
	out := ds.Clone()
	for j := 0; j < out.Cols(); j++ {
		flipColumn(out.Col(j), g, true)
	}
	return out, nil
}

// FlipVertical returns a copy of ds with every sample mirrored top to bottom.
func FlipVertical(ds *tensor.Matrix, g Geometry) (*tensor.Matrix, error) {
	if err := g.Check(ds); err != nil {
		return nil, err
	}
	out := ds.Clone()
	for j := 0; j < out.Cols(); j++ {
		flipColumn(out.Col(j), g, false)
	}
	return out, nil
}

func flipColumn(col []float32, g Geometry, horizontal bool) {
	w, h := g.Width, g.Height
	plane := w * h
	for c := 0; c < g.Depth; c++ {
		p := col[c*plane : (c+1)*plane]
		if horizontal {
			for y := 0; y < h; y++ {
				row := p[y*w : (y+1)*w]
				for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
					row[l], row[r] = row[r], row[l]
				}
			}
			continue
		}
		for t, b := 0, h-1; t < b; t, b = t+1, b-1 {
			for x := 0; x < w; x++ {
				p[x+t*w], p[x+b*w] = p[x+b*w], p[x+t*w]
			}
		}
	}
}
