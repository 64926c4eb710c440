package ngff

import (
	zarr "github.com/qri-io/ome-zarr-go"
)

// Omero holds the rendering settings of an image
type Omero struct {
	ID       int
	Name     string
	Version  string
	Channels []Channel
	RDefs    *RenderingDefaults
}

type Channel struct {
	Active      bool
	Coefficient float64
	Color       string
	Family      string
	Inverted    bool
	Label       string
	Window      *Window
}

// Window is the display range of a channel
type Window struct {
	Start float64
	End   float64
	Min   float64
	Max   float64
}

type RenderingDefaults struct {
	DefaultT int
	DefaultZ int
	Model    string
}

// ParseOmero decodes the "omero" attribute, returning nil when absent.
// Numeric fields accept integer and decimal values alike.
func ParseOmero(attrs zarr.Attributes) (*Omero, error) {
	v, ok := attrs.Get(AttrOmero)
	if !ok || v.IsNull() {
		return nil, nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, malformed("omero is a %s, not an object", v.Kind())
	}
	o := &Omero{}
	o.ID, _ = m.Int("id")
	o.Name, _ = m.String("name")
	o.Version, _ = m.String("version")

	channels, _ := m.List("channels")
	for i, el := range channels {
		cm, ok := el.AsMap()
		if !ok {
			return nil, malformed("omero channels[%d] is not an object", i)
		}
		ch := Channel{}
		ch.Active, _ = cm.Bool("active")
		ch.Coefficient, _ = cm.Float("coefficient")
		ch.Color, _ = cm.String("color")
		ch.Family, _ = cm.String("family")
		ch.Inverted, _ = cm.Bool("inverted")
		ch.Label, _ = cm.String("label")
		if wm, ok := cm.Map("window"); ok {
			w := &Window{}
			w.Start, _ = wm.Float("start")
			w.End, _ = wm.Float("end")
			w.Min, _ = wm.Float("min")
			w.Max, _ = wm.Float("max")
			ch.Window = w
		}
		o.Channels = append(o.Channels, ch)
	}

	if rm, ok := m.Map("rdefs"); ok {
		rd := &RenderingDefaults{}
		rd.DefaultT, _ = rm.Int("defaultT")
		rd.DefaultZ, _ = rm.Int("defaultZ")
		rd.Model, _ = rm.String("model")
		o.RDefs = rd
	}
	return o, nil
}
