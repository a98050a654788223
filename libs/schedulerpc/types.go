package schedulerpc

import "github.com/md-rashed-zaman/bookslots/libs/calendar"

// InputsRequest names a provider by id or public slug.
type InputsRequest struct {
	ProviderRef string        `json:"provider_ref"`
	ServiceID   string        `json:"service_id"`
	Date        calendar.Date `json:"date"`
}

// InputsResponse carries everything the availability engine needs for one
// provider-local date, except bookings.
type InputsResponse struct {
	ProviderID   string                  `json:"provider_id"`
	ProviderSlug string                  `json:"provider_slug,omitempty"`
	Timezone     string                  `json:"timezone"`
	Service      calendar.Service        `json:"service"`
	Weekly       []calendar.WeeklyEntry  `json:"weekly"`
	Override     *calendar.DateOverride  `json:"override,omitempty"`
	Capacity     calendar.CapacityPolicy `json:"capacity"`
}
