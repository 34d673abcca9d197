package domain

import "strings"

type Broker struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Available              bool     `json:"available"`
	MaxConcurrentShipments int      `json:"max_concurrent_shipments"`
	OriginCountries        []string `json:"origin_countries"`
	DestinationCountries   []string `json:"destination_countries"`
	HSCategories           []string `json:"hs_categories"`
}

type BrokerFilter struct {
	AvailableOnly bool
}

// AcceptsOrigin treats an empty allow-list as accept-all.
func (b Broker) AcceptsOrigin(country string) bool {
	return allowListContains(b.OriginCountries, country)
}

func (b Broker) AcceptsDestination(country string) bool {
	return allowListContains(b.DestinationCountries, country)
}

// AcceptsHSCategories reports whether the broker covers at least one of the shipment's
// categories. A shipment without categories matches every broker. With strict set, a broker
// without configured categories rejects a shipment that has some.
func (b Broker) AcceptsHSCategories(categories []string, strict bool) bool {
	if len(categories) == 0 {
		return true
	}
	if len(b.HSCategories) == 0 {
		return !strict
	}
	for _, c := range categories {
		for _, allowed := range b.HSCategories {
			if strings.EqualFold(strings.TrimSpace(allowed), c) {
				return true
			}
		}
	}
	return false
}

// HasCapacity treats a non-positive limit as unlimited.
func (b Broker) HasCapacity(load int) bool {
	if b.MaxConcurrentShipments <= 0 {
		return true
	}
	return load < b.MaxConcurrentShipments
}

func allowListContains(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	value = strings.TrimSpace(value)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}
