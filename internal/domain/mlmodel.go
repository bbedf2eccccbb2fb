package domain

// MlFeature is one input feature of an ML model.
type MlFeature struct {
	Name        string `json:"name"`
	DataType    string `json:"dataType,omitempty"`
	Description string `json:"description,omitempty"`
}

// MlHyperParameter is one tuning parameter of an ML model.
type MlHyperParameter struct {
	Name        string `json:"name"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
}

// MlModel is a versioned machine-learning model entity. The Dashboard pointer
// is mirrored as a relationship edge by the mlmodel update hook rather than
// being part of the stored JSON alone.
type MlModel struct {
	EntityHeader
	Algorithm         string             `json:"algorithm"`
	Target            string             `json:"target,omitempty"`
	Server            string             `json:"server,omitempty"`
	Dashboard         *EntityReference   `json:"dashboard,omitempty"`
	MlFeatures        []MlFeature        `json:"mlFeatures,omitempty"`
	MlHyperParameters []MlHyperParameter `json:"mlHyperParameters,omitempty"`
}

func (m *MlModel) EntityType() string    { return EntityTypeMlModel }
func (m *MlModel) Header() *EntityHeader { return &m.EntityHeader }

// Clone returns a deep copy of the model.
func (m *MlModel) Clone() Entity {
	clone := *m
	clone.EntityHeader = cloneHeader(m.EntityHeader)
	clone.Dashboard = copyRef(m.Dashboard)
	if m.MlFeatures != nil {
		clone.MlFeatures = make([]MlFeature, len(m.MlFeatures))
		copy(clone.MlFeatures, m.MlFeatures)
	}
	if m.MlHyperParameters != nil {
		clone.MlHyperParameters = make([]MlHyperParameter, len(m.MlHyperParameters))
		copy(clone.MlHyperParameters, m.MlHyperParameters)
	}
	return &clone
}
