package geo

// GeoJSON object types.
const (
	TypeFeatureCollection = "FeatureCollection"
	TypeFeature           = "Feature"
	TypePoint             = "Point"
)

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a GeoJSON Feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry is a GeoJSON geometry. Only points are produced here.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat]
}

// NewFeatureCollection returns an empty collection that encodes features as [] rather than null.
func NewFeatureCollection(capacity int) *FeatureCollection {
	return &FeatureCollection{
		Type:     TypeFeatureCollection,
		Features: make([]Feature, 0, capacity),
	}
}

// AddPoint appends a point feature at c.
func (fc *FeatureCollection) AddPoint(c Coordinate, properties map[string]any) {
	fc.Features = append(fc.Features, Feature{
		Type: TypeFeature,
		Geometry: Geometry{
			Type:        TypePoint,
			Coordinates: []float64{c.Lon, c.Lat},
		},
		Properties: properties,
	})
}
