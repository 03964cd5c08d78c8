package billingcycle

import (
	"time"

	subscriptiondomain "github.com/smallbiznis/allowance/internal/subscription/domain"
)

// WindowFor returns the period of sub that contains now, anchored on StartedAt.
func WindowFor(sub subscriptiondomain.Subscription, now time.Time) (Period, error) {
	return Window(sub.StartedAt, now)
}
