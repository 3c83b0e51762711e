package cart

// ActionType names a cart transition.
type ActionType string

const (
	ActionAddItem        ActionType = "ADD_ITEM"
	ActionRemoveItem     ActionType = "REMOVE_ITEM"
	ActionUpdateQuantity ActionType = "UPDATE_QUANTITY"
	ActionClear          ActionType = "CLEAR_CART"
	ActionLoad           ActionType = "LOAD_CART"
)

// Action is one transition request. Which fields matter depends on Type.
type Action struct {
	Type      ActionType `json:"type"`
	Item      Item       `json:"item,omitempty"`
	ProductID string     `json:"product_id,omitempty"`
	Quantity  int        `json:"quantity,omitempty"`
	State     *State     `json:"state,omitempty"`
}

func AddItem(item Item) Action           { return Action{Type: ActionAddItem, Item: item} }
func RemoveItem(productID string) Action { return Action{Type: ActionRemoveItem, ProductID: productID} }
func Clear() Action                      { return Action{Type: ActionClear} }
func Load(s State) Action                { return Action{Type: ActionLoad, State: &s} }

func UpdateQuantity(productID string, quantity int) Action {
	return Action{Type: ActionUpdateQuantity, ProductID: productID, Quantity: quantity}
}

// Reduce applies a to s and returns the new state. s is never modified.
// Unknown actions return s unchanged.
func Reduce(s State, a Action) State {
	var items []Item

	switch a.Type {
	case ActionAddItem:
		items = copyItems(s.Items)
		found := false
		for i := range items {
			if items[i].ProductID == a.Item.ProductID {
				items[i].Quantity++
				found = true
				break
			}
		}
		if !found {
			added := a.Item
			added.Quantity = 1
			items = append(items, added)
		}

	case ActionRemoveItem:
		items = make([]Item, 0, len(s.Items))
		for _, it := range s.Items {
			if it.ProductID != a.ProductID {
				items = append(items, it)
			}
		}

	case ActionUpdateQuantity:
		items = make([]Item, 0, len(s.Items))
		for _, it := range s.Items {
			if it.ProductID == a.ProductID {
				it.Quantity = max(0, a.Quantity)
			}
			if it.Quantity > 0 {
				items = append(items, it)
			}
		}

	case ActionClear:
		return State{Items: []Item{}, Total: 0}

	case ActionLoad:
		if a.State == nil {
			return s
		}
		return State{Items: copyItems(a.State.Items), Total: a.State.Total}

	default:
		return s
	}

	return State{Items: items, Total: total(items)}
}

func total(items []Item) int64 {
	var sum int64
	for _, it := range items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

func copyItems(in []Item) []Item {
	out := make([]Item, len(in))
	copy(out, in)
	return out
}
