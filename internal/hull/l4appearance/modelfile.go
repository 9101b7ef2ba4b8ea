package l4appearance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
)

// ErrMalformedModels reports a model file that does not describe the
// configured number of clusters with the configured histogram shape.
var ErrMalformedModels = errors.New("malformed color model file")

const (
	sectionPrefix  = "Cluster"
	keyColorSpace  = "color_space"
	keyBins        = "bins"
	histogramCount = 3
)

type modelSection struct {
	Color      []float64   `yaml:"color,flow"`
	Histograms [][]float64 `yaml:"histograms,flow"`
}

// MarshalModels renders a model set as YAML with one ClusterN section per
// model, in cluster order.
func MarshalModels(set *ModelSet) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	addScalar := func(key, value string, tag string) {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: value, Tag: tag},
		)
	}
	addScalar(keyColorSpace, string(set.Space), "!!str")
	addScalar(keyBins, strconv.Itoa(set.Bins), "!!int")

	for k, m := range set.Models {
		sec := modelSection{Color: m.Color[:]}
		for _, h := range m.Histograms {
			sec.Histograms = append(sec.Histograms, h)
		}
		var val yaml.Node
		if err := val.Encode(sec); err != nil {
			return nil, fmt.Errorf("encode cluster %d: %w", k, err)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: sectionPrefix + strconv.Itoa(k)},
			&val,
		)
	}
	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	return yaml.Marshal(doc)
}

// UnmarshalModels parses a model file and checks it against cfg: exactly
// cfg.Clusters sections Cluster0..ClusterK-1, each with a four-component
// color and three histograms of cfg.Bins bins, in cfg.Space.
func UnmarshalModels(data []byte, cfg AppearanceConfig) (*ModelSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModels, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", ErrMalformedModels)
	}
	root := doc.Content[0]

	set := &ModelSet{Space: cfg.Space, Bins: cfg.Bins, Models: make([]ColorModel, cfg.Clusters)}
	seen := make([]bool, cfg.Clusters)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		switch {
		case key == keyColorSpace:
			if ColorSpace(val.Value) != cfg.Space {
				return nil, fmt.Errorf("%w: color space %q, want %q", ErrMalformedModels, val.Value, cfg.Space)
			}
		case key == keyBins:
			if val.Value != strconv.Itoa(cfg.Bins) {
				return nil, fmt.Errorf("%w: %s bins, want %d", ErrMalformedModels, val.Value, cfg.Bins)
			}
		case strings.HasPrefix(key, sectionPrefix):
			k, err := strconv.Atoi(strings.TrimPrefix(key, sectionPrefix))
			if err != nil || k < 0 || k >= cfg.Clusters {
				return nil, fmt.Errorf("%w: unexpected section %s for %d clusters", ErrMalformedModels, key, cfg.Clusters)
			}
			if seen[k] {
				return nil, fmt.Errorf("%w: duplicate section %s", ErrMalformedModels, key)
			}
			m, err := decodeSection(val, cfg.Bins)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedModels, key, err)
			}
			set.Models[k] = m
			seen[k] = true
		default:
			return nil, fmt.Errorf("%w: unknown key %q", ErrMalformedModels, key)
		}
	}
	for k, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: missing section %s%d", ErrMalformedModels, sectionPrefix, k)
		}
	}
	return set, nil
}

func decodeSection(node *yaml.Node, bins int) (ColorModel, error) {
	var sec modelSection
	if err := node.Decode(&sec); err != nil {
		return ColorModel{}, err
	}
	if len(sec.Color) != 4 {
		return ColorModel{}, fmt.Errorf("color has %d components, want 4", len(sec.Color))
	}
	if len(sec.Histograms) != histogramCount {
		return ColorModel{}, fmt.Errorf("%d histograms, want %d", len(sec.Histograms), histogramCount)
	}
	var m ColorModel
	copy(m.Color[:], sec.Color)
	for ch, h := range sec.Histograms {
		if len(h) != bins {
			return ColorModel{}, fmt.Errorf("histogram %d has %d bins, want %d", ch, len(h), bins)
		}
		m.Histograms[ch] = Histogram(h)
	}
	return m, nil
}

// SaveModels writes the model set atomically.
func SaveModels(fsys fsutil.FileSystem, path string, set *ModelSet) error {
	data, err := MarshalModels(set)
	if err != nil {
		return fmt.Errorf("marshal color models: %w", err)
	}
	if err := fsutil.WriteFileAtomic(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("save color models %s: %w", path, err)
	}
	return nil
}

// LoadModels reads and validates a model file. A missing file surfaces the
// underlying fs error; a file of the wrong shape wraps ErrMalformedModels.
func LoadModels(fsys fsutil.FileSystem, path string, cfg AppearanceConfig) (*ModelSet, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read color models %s: %w", path, err)
	}
	set, err := UnmarshalModels(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("load color models %s: %w", path, err)
	}
	return set, nil
}
