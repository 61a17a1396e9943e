package engine

// PriceWindow is a fixed-capacity ring of recent tick prices, exclusively
// owned by one hot loop.
type PriceWindow struct {
	buf   []float64
	head  int
	count int
}

// NewPriceWindow creates a window holding up to capacity prices.
func NewPriceWindow(capacity int) *PriceWindow {
	if capacity < 2 {
		capacity = 2
	}
	return &PriceWindow{buf: make([]float64, capacity)}
}

// Push appends a price, evicting the oldest when full.
func (w *PriceWindow) Push(price float64) {
	w.buf[w.head] = price
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Len returns the number of stored prices.
func (w *PriceWindow) Len() int {
	return w.count
}

// Prices returns the stored prices, oldest first.
func (w *PriceWindow) Prices() []float64 {
	out := make([]float64, w.count)
	start := w.head - w.count
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}
