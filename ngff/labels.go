package ngff

import (
	zarr "github.com/qri-io/ome-zarr-go"
)

// ParseLabels returns the label image names of a "labels" group
func ParseLabels(attrs zarr.Attributes) ([]string, error) {
	v, ok := attrs.Get(AttrLabels)
	if !ok || v.IsNull() {
		return nil, nil
	}
	list, ok := v.AsList()
	if !ok {
		return nil, malformed("labels is a %s, not a list", v.Kind())
	}
	names := make([]string, 0, len(list))
	for i, el := range list {
		s, ok := el.AsString()
		if !ok {
			return nil, malformed("labels[%d] is a %s, not a string", i, el.Kind())
		}
		names = append(names, s)
	}
	return names, nil
}

// ImageLabel describes a label image: the colour and properties of each label
// value, and the images it annotates
type ImageLabel struct {
	Version    string
	Colors     []LabelColor
	Properties []LabelProperty
	Source     []string
}

type LabelColor struct {
	LabelValue int
	RGBA       []int
}

type LabelProperty struct {
	LabelValue int
	Area       float64
	Class      string
	// Attributes holds the complete property entry
	Attributes zarr.Attributes
}

// ParseImageLabel decodes the "image-label" attribute and the "source" it
// names, returning nil when the group is no label image. Colours are read
// from "colors", or "color" when absent.
func ParseImageLabel(attrs zarr.Attributes) (*ImageLabel, error) {
	v, ok := attrs.Get(AttrImageLabel)
	if !ok || v.IsNull() {
		return nil, nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, malformed("image-label is a %s, not an object", v.Kind())
	}
	il := &ImageLabel{}
	il.Version, _ = m.String("version")

	colors, ok := m.List("colors")
	if !ok {
		colors, _ = m.List("color")
	}
	for i, el := range colors {
		cm, ok := el.AsMap()
		if !ok {
			return nil, malformed("image-label colors[%d] is not an object", i)
		}
		c := LabelColor{}
		c.LabelValue, _ = cm.Int("label-value")
		rgba, _ := cm.List("rgba")
		for _, x := range rgba {
			if n, ok := x.AsInt(); ok {
				c.RGBA = append(c.RGBA, n)
			}
		}
		il.Colors = append(il.Colors, c)
	}

	props, _ := m.List("properties")
	for i, el := range props {
		pm, ok := el.AsMap()
		if !ok {
			return nil, malformed("image-label properties[%d] is not an object", i)
		}
		p := LabelProperty{Attributes: pm}
		p.LabelValue, _ = pm.Int("label-value")
		p.Area, _ = pm.Float("area (pixels)")
		p.Class, _ = pm.String("class")
		il.Properties = append(il.Properties, p)
	}

	il.Source = parseSource(attrs)
	return il, nil
}

// parseSource collects the image paths of a "source" attribute, given either
// as an object or a list of objects whose "image" is a path or a list of paths
func parseSource(attrs zarr.Attributes) []string {
	v, ok := attrs.Get(AttrSource)
	if !ok {
		// older label images nest the source inside image-label
		il, _ := attrs.Map(AttrImageLabel)
		if v, ok = il.Get(AttrSource); !ok {
			return nil
		}
	}
	entries, ok := v.AsList()
	if !ok {
		entries = []zarr.Value{v}
	}
	var paths []string
	for _, e := range entries {
		m, ok := e.AsMap()
		if !ok {
			continue
		}
		img, ok := m.Get("image")
		if !ok {
			continue
		}
		if s, ok := img.AsString(); ok {
			paths = append(paths, s)
			continue
		}
		list, _ := img.AsList()
		for _, p := range list {
			if s, ok := p.AsString(); ok {
				paths = append(paths, s)
			}
		}
	}
	return paths
}
