package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	latte = Item{ProductID: "latte", Name: "Latte", UnitPrice: 4500}
	beans = Item{ProductID: "beans", Name: "House Beans", UnitPrice: 12000}
)

func TestReduceAddItem(t *testing.T) {
	s := Reduce(State{}, AddItem(latte))
	s = Reduce(s, AddItem(beans))
	s = Reduce(s, AddItem(latte))

	assert.Len(t, s.Items, 2)
	assert.Equal(t, 2, s.Items[0].Quantity)
	assert.Equal(t, 1, s.Items[1].Quantity)
	assert.Equal(t, int64(2*4500+12000), s.Total)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	before := Reduce(State{}, AddItem(latte))
	_ = Reduce(before, AddItem(latte))

	assert.Equal(t, 1, before.Items[0].Quantity)
}

func TestReduceUpdateQuantity(t *testing.T) {
	s := Reduce(Reduce(State{}, AddItem(latte)), AddItem(beans))

	tests := []struct {
		name      string
		quantity  int
		wantLines int
		wantTotal int64
	}{
		{"increase", 3, 2, 3*4500 + 12000},
		{"zero drops line", 0, 1, 12000},
		{"negative clamps to zero", -4, 1, 12000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(s, UpdateQuantity("latte", tt.quantity))
			assert.Len(t, got.Items, tt.wantLines)
			assert.Equal(t, tt.wantTotal, got.Total)
		})
	}
}

func TestReduceRemoveClearLoad(t *testing.T) {
	s := Reduce(Reduce(State{}, AddItem(latte)), AddItem(beans))

	removed := Reduce(s, RemoveItem("beans"))
	assert.Len(t, removed.Items, 1)
	assert.Equal(t, int64(4500), removed.Total)

	cleared := Reduce(s, Clear())
	assert.True(t, cleared.Empty())
	assert.Zero(t, cleared.Total)

	saved := State{Items: []Item{{ProductID: "x", UnitPrice: 1, Quantity: 1}}, Total: 99}
	loaded := Reduce(s, Load(saved))
	assert.Equal(t, saved, loaded, "load replaces state verbatim")

	assert.Equal(t, s, Reduce(s, Action{Type: "BOGUS"}))
}
