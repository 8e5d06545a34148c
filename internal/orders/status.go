package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// validNext is the whole lifecycle. pending is the only initial state.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusAccepted: true, StatusRejected: true},
	StatusAccepted:  {StatusShipped: true},
	StatusShipped:   {StatusDelivered: true},
	StatusDelivered: {},
	StatusRejected:  {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Seller views merge rejected and cancelled into one bucket.
const (
	BucketPending   = "pending"
	BucketAccepted  = "accepted"
	BucketRejected  = "rejected"
	BucketShipped   = "shipped"
	BucketDelivered = "delivered"
)

var sellerBucket = map[Status]string{
	StatusPending:   BucketPending,
	StatusAccepted:  BucketAccepted,
	StatusRejected:  BucketRejected,
	StatusCancelled: BucketRejected,
	StatusShipped:   BucketShipped,
	StatusDelivered: BucketDelivered,
}

// Buyer views split orders into still-moving and finished ones.
const (
	GroupActive = "active"
	GroupPast   = "past"
)

var buyerGroup = map[Status]string{
	StatusPending:   GroupActive,
	StatusAccepted:  GroupActive,
	StatusShipped:   GroupActive,
	StatusDelivered: GroupPast,
	StatusCancelled: GroupPast,
	StatusRejected:  GroupPast,
}

func SellerBucket(s Status) string { return sellerBucket[s] }

func BuyerGroup(s Status) string { return buyerGroup[s] }

// SellerFilter resolves a seller list filter to the statuses it covers. A
// bucket name selects the whole bucket; any other status selects itself.
// An empty result with ok=true means "no filter".
func SellerFilter(filter string) (statuses []Status, ok bool) {
	if filter == "" || filter == "all" {
		return nil, true
	}
	for _, s := range allStatuses {
		if sellerBucket[s] == filter {
			statuses = append(statuses, s)
		}
	}
	if len(statuses) == 0 && Status(filter).Valid() {
		statuses = []Status{Status(filter)}
	}
	return statuses, len(statuses) > 0
}

// BuyerFilter resolves a buyer list filter ("active", "past" or "all").
func BuyerFilter(filter string) (statuses []Status, ok bool) {
	if filter == "" || filter == "all" {
		return nil, true
	}
	for _, s := range allStatuses {
		if buyerGroup[s] == filter {
			statuses = append(statuses, s)
		}
	}
	return statuses, len(statuses) > 0
}

// allStatuses keeps filter output in a stable order.
var allStatuses = []Status{
	StatusPending,
	StatusAccepted,
	StatusShipped,
	StatusDelivered,
	StatusRejected,
	StatusCancelled,
}
