package escrow

import (
	"github.com/carpoolhq/settlement-engine/internal/models"
	"github.com/carpoolhq/settlement-engine/pkg/utils"
)

// Quote is the priced result for one prospective pairing.
type Quote struct {
	TotalPrice float64 `json:"totalPrice"`
	UnitPrice  float64 `json:"unitPrice"`
}

// QuoteByUnitPrice computes the trip price for a driver/rider pair. The
// driver-quoted rate always wins when the driver specified one; otherwise the
// counterpart's rate applies. Whichever side supplies the rate, the other
// side's measured distance supplies the meters. With unit pricing disabled,
// or when neither side quoted a rate, the owner's stated price stands.
//
// Deterministic for identical inputs, which keeps disputed fares
// reproducible after the fact.
func QuoteByUnitPrice(owner, target models.Reservation, unitPriceEnabled bool) Quote {
	if !unitPriceEnabled {
		return Quote{TotalPrice: owner.Price}
	}

	driver, rider := owner, target
	if owner.Role != models.RoleDriver {
		driver, rider = target, owner
	}

	switch {
	case driver.UnitPrice != nil:
		rate := *driver.UnitPrice
		return Quote{TotalPrice: utils.RoundCurrency(rate * rider.RouteMeter), UnitPrice: rate}
	case rider.UnitPrice != nil:
		rate := *rider.UnitPrice
		return Quote{TotalPrice: utils.RoundCurrency(rate * driver.RouteMeter), UnitPrice: rate}
	default:
		return Quote{TotalPrice: owner.Price}
	}
}

// PayoutAmount applies the fee waterfall to an escrow net balance. Both fees
// are deducted when the balance covers them; otherwise the driver fee is
// waived so the payout can never go negative. A balance at or below the
// passenger fee pays nothing.
func PayoutAmount(net, driverFee, passengerFee float64) float64 {
	switch {
	case net <= passengerFee:
		return 0
	case net <= passengerFee+driverFee:
		return utils.RoundCurrency(net - passengerFee)
	default:
		return utils.RoundCurrency(net - passengerFee - driverFee)
	}
}
