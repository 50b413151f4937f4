package domain

// Order is a single retailer-API order as returned by the orders list and
// order detail endpoints. The API is the source of truth; nothing here is
// ever written back.
type Order struct {
	OrderID             string           `json:"orderId"`
	OrderPlacedDateTime string           `json:"orderPlacedDateTime"`
	CustomerDetails     *CustomerDetails `json:"customerDetails,omitempty"`
	OrderItems          []OrderItem      `json:"orderItems"`
}

type OrderItem struct {
	OrderItemID         string               `json:"orderItemId"`
	EAN                 string               `json:"ean"`
	Quantity            int64                `json:"quantity"`
	UnitPrice           *float64             `json:"unitPrice,omitempty"`
	Fulfilment          *Fulfilment          `json:"fulfilment,omitempty"`
	Offer               *Offer               `json:"offer,omitempty"`
	CancellationRequest *CancellationRequest `json:"cancellationRequest,omitempty"`
}

type CancellationRequest struct {
	IsRequested bool `json:"isRequested"`
}

type Fulfilment struct {
	Method            string `json:"method,omitempty"`
	DistributionParty string `json:"distributionParty,omitempty"`
}

type Offer struct {
	OfferID   string `json:"offerId,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type CustomerDetails struct {
	ShipmentDetails *ShipmentDetails `json:"shipmentDetails,omitempty"`
	BillingDetails  *ShipmentDetails `json:"billingDetails,omitempty"`
}

type ShipmentDetails struct {
	FirstName   string `json:"firstName,omitempty"`
	Surname     string `json:"surname,omitempty"`
	Email       string `json:"email,omitempty"`
	City        string `json:"city,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
}

// CustomerEmail walks the nested shipment details. Any missing link in the
// chain yields "", never a panic.
func (o *Order) CustomerEmail() string {
	if o == nil || o.CustomerDetails == nil || o.CustomerDetails.ShipmentDetails == nil {
		return ""
	}
	return o.CustomerDetails.ShipmentDetails.Email
}
