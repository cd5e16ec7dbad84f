// README: Catalog price snapshot types.
package pricing

import "speedyfood/internal/types"

type Product struct {
	Code   string
	Name   string
	Price  types.Money
	Active bool
}

type Line struct {
	ProductCode string
	Quantity    int
}

type Quote struct {
	Total     types.Money
	Breakdown map[string]types.Money
}
