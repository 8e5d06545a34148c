package orders

// Stock is the part of a listing the ledger adjusts.
type Stock struct {
	Quantity int
	Status   BookStatus
}

// Reserve takes qty units off an active listing for a new order. A listing
// that runs out becomes sold.
func Reserve(s Stock, qty int) (Stock, error) {
	if qty < 1 {
		return s, newError(KindValidation, "quantity must be at least 1")
	}
	if s.Status != BookActive {
		return s, newError(KindNotFound, "book not found or not available")
	}
	if s.Quantity < qty {
		return s, newError(KindOutOfStock, "insufficient stock: requested %d, available %d", qty, s.Quantity)
	}
	next := Stock{Quantity: s.Quantity - qty, Status: BookActive}
	if next.Quantity == 0 {
		next.Status = BookSold
	}
	return next, nil
}

// Release returns qty units reserved by a rejected order and puts the listing
// back on sale.
func Release(s Stock, qty int) Stock {
	return Stock{Quantity: s.Quantity + qty, Status: BookActive}
}
