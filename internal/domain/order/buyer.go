package order

import (
	"errors"
	"strings"
)

// Shipping is the delivery address collected at cash-on-delivery checkout.
type Shipping struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Missing lists the required fields that are blank.
func (s Shipping) Missing() []string {
	var out []string
	for _, f := range []struct{ name, value string }{
		{"name", s.Name},
		{"phone", s.Phone},
		{"address", s.Address},
		{"city", s.City},
	} {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

func (s Shipping) Validate() error {
	if missing := s.Missing(); len(missing) > 0 {
		return errors.Join(ErrValidation, errors.New("missing "+strings.Join(missing, ", ")))
	}
	return nil
}
