package domain

// Dashboard is a versioned dashboard entity. Charts are references to chart
// entities owned by the wider catalog.
type Dashboard struct {
	EntityHeader
	DashboardURL string            `json:"dashboardUrl,omitempty"`
	Charts       []EntityReference `json:"charts,omitempty"`
	ServiceFQN   string            `json:"serviceFQN,omitempty"`
}

func (d *Dashboard) EntityType() string    { return EntityTypeDashboard }
func (d *Dashboard) Header() *EntityHeader { return &d.EntityHeader }

// Clone returns a deep copy of the dashboard.
func (d *Dashboard) Clone() Entity {
	clone := *d
	clone.EntityHeader = cloneHeader(d.EntityHeader)
	clone.Charts = copyRefs(d.Charts)
	return &clone
}
