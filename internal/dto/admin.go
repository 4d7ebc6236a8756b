package dto

// RouteRequest enables or disables a destination domain
type RouteRequest struct {
	Domain  uint64 `json:"domain" binding:"required"`
	Enabled bool   `json:"enabled"`
}

// PeerRequest registers the trusted sender for a domain
type PeerRequest struct {
	Domain uint64 `json:"domain" binding:"required"`
	Peer   string `json:"peer" binding:"required"`
}

// AddressRequest sets a single address setting (router, fee token, vault, new owner)
type AddressRequest struct {
	Address string `json:"address" binding:"required"`
}

// AutomationToggleRequest turns the emergency automation on or off
type AutomationToggleRequest struct {
	Enabled bool `json:"enabled"`
}
