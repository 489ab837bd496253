package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/comms-cli/internal/model"
)

// wgs84 is the SRID stamped on stored locations.
const wgs84 = 4326

// encodePoint converts a location to EWKB (X=lon, Y=lat). A nil location
// encodes to nil so the column stays NULL.
func encodePoint(p *model.GeoPoint) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	pt := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(wgs84)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode location")
	}
	return data, nil
}

// decodePoint is the inverse of encodePoint. Empty input and empty points
// decode to nil.
func decodePoint(data []byte) (*model.GeoPoint, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode location")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("store: location is a %T, want a point", g)
	}
	if pt.Empty() {
		return nil, nil
	}
	return &model.GeoPoint{Lat: pt.Y(), Lon: pt.X()}, nil
}
