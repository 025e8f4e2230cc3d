package ui

// FocusManager rotates focus across the panels of a screen.
type FocusManager struct {
	Current  string   // ID of the focused panel
	Order    []string // Tab order
	OnChange func(from, to string)
}

// Next moves focus to the next panel and returns its ID.
func (f *FocusManager) Next() string { return f.move(1) }

// Prev moves focus to the previous panel and returns its ID.
func (f *FocusManager) Prev() string { return f.move(-1) }

func (f *FocusManager) move(step int) string {
	n := len(f.Order)
	if n == 0 {
		return ""
	}
	idx := f.index(f.Current)
	if idx < 0 && step < 0 {
		idx = 0
	}
	f.set(f.Order[((idx+step)%n+n)%n])
	return f.Current
}

// SetFocus focuses id. Returns false if id is not in Order.
func (f *FocusManager) SetFocus(id string) bool {
	if f.index(id) < 0 {
		return false
	}
	f.set(id)
	return true
}

func (f *FocusManager) index(id string) int {
	for i, o := range f.Order {
		if o == id {
			return i
		}
	}
	return -1
}

func (f *FocusManager) set(id string) {
	from := f.Current
	f.Current = id
	if f.OnChange != nil && from != id {
		f.OnChange(from, id)
	}
}
