package ride

import "math"

// Tax and service rates applied to the subtotal.
const (
	taxRate        = 0.05
	serviceFeeRate = 0.10
)

// LineItem is one billable item on a ride.
type LineItem struct {
	Name       string  `json:"name"`
	TotalPrice float64 `json:"total_price"`
}

// Fare is the deterministic fare breakdown. Total is always
// subtotal + tax + service fee + delivery fee; each derived field is
// rounded half-up to two decimals exactly once.
type Fare struct {
	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	ServiceFee  float64 `json:"service_fee"`
	DeliveryFee float64 `json:"delivery_fee"`
	Total       float64 `json:"total"`
	Currency    string  `json:"currency"`
}

// Round2 rounds half-up to two decimal places.
func Round2(x float64) float64 {
	return math.Floor(x*100+0.5) / 100
}

// ComputeFare derives the full breakdown from the line items and delivery fee.
func ComputeFare(items []LineItem, deliveryFee float64, currency string) Fare {
	var subtotal float64
	for _, item := range items {
		subtotal += item.TotalPrice
	}
	subtotal = Round2(subtotal)

	tax := Round2(subtotal * taxRate)
	serviceFee := Round2(subtotal * serviceFeeRate)
	deliveryFee = Round2(deliveryFee)

	return Fare{
		Subtotal:    subtotal,
		Tax:         tax,
		ServiceFee:  serviceFee,
		DeliveryFee: deliveryFee,
		Total:       Round2(subtotal + tax + serviceFee + deliveryFee),
		Currency:    currency,
	}
}
