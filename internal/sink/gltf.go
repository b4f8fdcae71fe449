package sink

import (
	"fmt"

	"github.com/qmuntal/gltf"
)

// MorphTargetNames reads the ordered morph target names of a mesh. An empty
// meshName selects the first mesh that has named targets. Names come from
// the mesh extras ("targetNames"), which is where most exporters put them.
func MorphTargetNames(path, meshName string) ([]string, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}

	if len(doc.Meshes) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoMesh)
	}

	for _, mesh := range doc.Meshes {
		if meshName != "" && mesh.Name != meshName {
			continue
		}

		names := targetNames(mesh)
		if len(names) > 0 {
			return names, nil
		}
		if meshName != "" {
			return nil, fmt.Errorf("%s mesh %q: %w", path, meshName, ErrNoMorphTargets)
		}
	}

	if meshName != "" {
		return nil, fmt.Errorf("%s mesh %q: %w", path, meshName, ErrNoMesh)
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNoMorphTargets)
}

func targetNames(mesh *gltf.Mesh) []string {
	extras, ok := mesh.Extras.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := extras["targetNames"].([]interface{})
	if !ok {
		return nil
	}

	count := len(raw)
	if len(mesh.Primitives) > 0 && len(mesh.Primitives[0].Targets) > 0 && len(mesh.Primitives[0].Targets) < count {
		count = len(mesh.Primitives[0].Targets)
	}

	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		s, _ := raw[i].(string)
		names = append(names, s)
	}
	return names
}

// LoadRegion builds a region from a glTF mesh. It fails if the mesh has no
// viseme targets at all.
func LoadRegion(name, path, meshName string) (*Region, error) {
	names, err := MorphTargetNames(path, meshName)
	if err != nil {
		return nil, err
	}

	r := NewRegion(name, names)
	if len(r.Table) == 0 {
		return nil, fmt.Errorf("region %s: %w", name, ErrNoVisemeTargets)
	}
	return r, nil
}
