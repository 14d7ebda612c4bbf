// Package catalog loads and indexes the static province/city/district dataset.
// A Catalog is immutable after Load and safe for concurrent reads.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kjstillabower/cnweather/internal/apperrors"
	"github.com/kjstillabower/cnweather/internal/models"
)

// Node is one entry in the location tree: a province, city or district.
type Node struct {
	Name     string
	Children []Node
}

// Catalog answers ordered listing and containment queries over the dataset.
type Catalog struct {
	provinces []Node
	byName    map[string]int            // province -> index into provinces
	cityIdx   map[string]map[string]int // province -> city -> index into Children
}

// datasetProvince mirrors the on-disk JSON layout. Pointers distinguish a
// missing field from an empty one.
type datasetProvince struct {
	Province *string `json:"province"`
	Citys    []struct {
		City  *string `json:"city"`
		Areas []struct {
			Area *string `json:"area"`
		} `json:"areas"`
	} `json:"citys"`
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperrors.ErrData, path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a dataset of the form
// [{province, citys: [{city, areas: [{area}]}]}] and indexes it.
// Returns an error wrapping apperrors.ErrData when the document is malformed,
// empty, lacks a name field, or repeats a name among siblings.
func Load(r io.Reader) (*Catalog, error) {
	var raw []datasetProvince
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode dataset: %v", apperrors.ErrData, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: dataset has no provinces", apperrors.ErrData)
	}

	c := &Catalog{
		provinces: make([]Node, 0, len(raw)),
		byName:    make(map[string]int, len(raw)),
		cityIdx:   make(map[string]map[string]int, len(raw)),
	}
	for i, p := range raw {
		pname, err := requireName(p.Province, "province", fmt.Sprintf("entry %d", i))
		if err != nil {
			return nil, err
		}
		if _, dup := c.byName[pname]; dup {
			return nil, fmt.Errorf("%w: duplicate province %q", apperrors.ErrData, pname)
		}

		pnode := Node{Name: pname, Children: make([]Node, 0, len(p.Citys))}
		cities := make(map[string]int, len(p.Citys))
		for j, ct := range p.Citys {
			cname, err := requireName(ct.City, "city", fmt.Sprintf("%s city %d", pname, j))
			if err != nil {
				return nil, err
			}
			if _, dup := cities[cname]; dup {
				return nil, fmt.Errorf("%w: duplicate city %q in %s", apperrors.ErrData, cname, pname)
			}

			cnode := Node{Name: cname}
			seen := make(map[string]struct{}, len(ct.Areas))
			for k, a := range ct.Areas {
				aname, err := requireName(a.Area, "area", fmt.Sprintf("%s/%s area %d", pname, cname, k))
				if err != nil {
					return nil, err
				}
				if _, dup := seen[aname]; dup {
					return nil, fmt.Errorf("%w: duplicate area %q in %s/%s", apperrors.ErrData, aname, pname, cname)
				}
				seen[aname] = struct{}{}
				cnode.Children = append(cnode.Children, Node{Name: aname})
			}
			cities[cname] = len(pnode.Children)
			pnode.Children = append(pnode.Children, cnode)
		}
		c.byName[pname] = len(c.provinces)
		c.cityIdx[pname] = cities
		c.provinces = append(c.provinces, pnode)
	}
	return c, nil
}

func requireName(v *string, field, where string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: %s: missing %q", apperrors.ErrData, where, field)
	}
	name := strings.TrimSpace(*v)
	if name == "" {
		return "", fmt.Errorf("%w: %s: empty %q", apperrors.ErrData, where, field)
	}
	return name, nil
}

// Provinces returns province names in dataset order.
func (c *Catalog) Provinces() []string {
	out := make([]string, len(c.provinces))
	for i, p := range c.provinces {
		out[i] = p.Name
	}
	return out
}

// CitiesOf returns the cities of province in dataset order, or an empty slice
// if the province is unknown.
func (c *Catalog) CitiesOf(province string) []string {
	i, ok := c.byName[province]
	if !ok {
		return []string{}
	}
	return names(c.provinces[i].Children)
}

// DistrictsOf returns the districts of city in dataset order. An empty slice
// means the district tier is unsupported for that city (or it is unknown).
func (c *Catalog) DistrictsOf(province, city string) []string {
	n, ok := c.city(province, city)
	if !ok {
		return []string{}
	}
	return names(n.Children)
}

// SupportsDistricts reports whether city has any districts in the dataset.
func (c *Catalog) SupportsDistricts(province, city string) bool {
	n, ok := c.city(province, city)
	return ok && len(n.Children) > 0
}

// HasProvince reports whether province exists.
func (c *Catalog) HasProvince(province string) bool {
	_, ok := c.byName[province]
	return ok
}

// HasCity reports whether city exists under province.
func (c *Catalog) HasCity(province, city string) bool {
	_, ok := c.city(province, city)
	return ok
}

// HasDistrict reports whether district exists under province/city.
func (c *Catalog) HasDistrict(province, city, district string) bool {
	n, ok := c.city(province, city)
	if !ok {
		return false
	}
	for _, d := range n.Children {
		if d.Name == district {
			return true
		}
	}
	return false
}

// Contains checks that every set tier of sel exists under its parent. Unset
// tiers (empty or placeholder) are skipped. Returns an error wrapping
// apperrors.ErrValidation naming the first tier that is not found.
func (c *Catalog) Contains(sel models.LocationSelection) error {
	p, ct, d := sel.Province, sel.City, sel.District
	if p == "" || p == models.UnsetProvince {
		return nil
	}
	if !c.HasProvince(p) {
		return fmt.Errorf("%w: unknown province %q", apperrors.ErrValidation, p)
	}
	if ct == "" || ct == models.UnsetCity {
		return nil
	}
	if !c.HasCity(p, ct) {
		return fmt.Errorf("%w: unknown city %q in %s", apperrors.ErrValidation, ct, p)
	}
	if d == "" || d == models.UnsetDistrict {
		return nil
	}
	if !c.HasDistrict(p, ct, d) {
		return fmt.Errorf("%w: unknown district %q in %s/%s", apperrors.ErrValidation, d, p, ct)
	}
	return nil
}

func (c *Catalog) city(province, city string) (Node, bool) {
	cities, ok := c.cityIdx[province]
	if !ok {
		return Node{}, false
	}
	j, ok := cities[city]
	if !ok {
		return Node{}, false
	}
	return c.provinces[c.byName[province]].Children[j], true
}

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}
