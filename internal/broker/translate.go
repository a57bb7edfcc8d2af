package broker

import "github.com/aristath/tradingcore/internal/domain/order"

// TranslateStatus maps a broker-native status string to the core's Order
// status vocabulary (§4.7). Unrecognized strings pass through as Pending so
// a reconciliation tick, not a silent drop, surfaces the discrepancy.
func TranslateStatus(brokerStatus string) order.Status {
	switch brokerStatus {
	case "NEW":
		return order.StatusPending
	case "PARTIALLY_FILLED":
		return order.StatusPartiallyFilled
	case "FILLED":
		return order.StatusFilled
	case "CANCELED", "EXPIRED":
		return order.StatusCancelled
	case "REJECTED":
		return order.StatusRejected
	default:
		return order.StatusPending
	}
}
