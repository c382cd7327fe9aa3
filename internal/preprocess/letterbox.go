package preprocess

// Letterbox records how an image was fitted into the S×S model input.
type Letterbox struct {
	Size    int `json:"size"`
	OrigW   int `json:"orig_w"`
	OrigH   int `json:"orig_h"`
	ResizeW int `json:"resize_w"`
	ResizeH int `json:"resize_h"`
	PadLeft int `json:"pad_left"`
	PadTop  int `json:"pad_top"`
}

// ToImage maps a point in model-input space to original-image pixels.
func (l Letterbox) ToImage(x, y float64) (float64, float64) {
	ix := (x - float64(l.PadLeft)) * float64(l.OrigW) / float64(l.ResizeW)
	iy := (y - float64(l.PadTop)) * float64(l.OrigH) / float64(l.ResizeH)
	return ix, iy
}

// Identity returns the mapping for an image that was already S×S.
func Identity(size int) Letterbox {
	return Letterbox{Size: size, OrigW: size, OrigH: size, ResizeW: size, ResizeH: size}
}
