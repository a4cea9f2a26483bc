package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"
)

// A catalog file lists modules; each module declares a namespace and its
// top-level nodes. Nodes inherit the namespace of their parent unless they
// set their own:
//
//	modules:
//	  - namespace: urn:example:dh
//	    nodes:
//	      - name: device-holder
//	        kind: list
//	        keys: [name]
//	        children:
//	          - {name: name, kind: leaf}
//	          - name: ports
//	            kind: container
//	            children:
//	              - name: port
//	                kind: list
//	                keys: [id]
//	                ordered-by: user
//	                children:
//	                  - {name: id, kind: leaf}
//	                  - {name: type, kind: leaf, type: identityref}
type yamlCatalog struct {
	Modules []yamlModule `yaml:"modules"`
}

type yamlModule struct {
	Namespace string     `yaml:"namespace"`
	Nodes     []yamlNode `yaml:"nodes"`
}

type yamlNode struct {
	Name      string     `yaml:"name"`
	Namespace string     `yaml:"namespace,omitempty"`
	Kind      string     `yaml:"kind"`
	Keys      []string   `yaml:"keys,omitempty"`
	OrderedBy string     `yaml:"ordered-by,omitempty"`
	Type      string     `yaml:"type,omitempty"`
	Children  []yamlNode `yaml:"children,omitempty"`
}

func LoadYAMLFile(fn string) (*MemCatalog, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cat, err := LoadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return cat, nil
}

func LoadYAML(r io.Reader) (cat *MemCatalog, err error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc yamlCatalog
	if err := yaml.UnmarshalStrict(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema catalog: %w", err)
	}

	cat = NewMemCatalog()
	// Add panics on structural problems, which are plain input errors here.
	defer func() {
		if e := recover(); e != nil {
			cat, err = nil, fmt.Errorf("schema catalog: %v", e)
		}
	}()
	for _, mod := range doc.Modules {
		if mod.Namespace == "" {
			return nil, fmt.Errorf("schema catalog: module without namespace")
		}
		for _, yn := range mod.Nodes {
			if err := addYAMLNode(cat, Root, mod.Namespace, yn); err != nil {
				return nil, err
			}
		}
	}
	return cat, nil
}

func addYAMLNode(cat *MemCatalog, parent Path, ns string, yn yamlNode) error {
	if yn.Namespace != "" {
		ns = yn.Namespace
	}
	if yn.Name == "" {
		return fmt.Errorf("schema catalog: %v: node without name", parent)
	}
	kind, err := ParseKind(yn.Kind)
	if err != nil {
		return fmt.Errorf("schema catalog: %v/%s: %w", parent, yn.Name, err)
	}

	var opts []NodeOpt
	if len(yn.Keys) > 0 {
		keys := make([]QName, len(yn.Keys))
		for i, k := range yn.Keys {
			keys[i] = Q(ns, k)
		}
		opts = append(opts, Keys(keys...))
	}
	switch yn.OrderedBy {
	case "", "system":
	case "user":
		opts = append(opts, OrderedByUser())
	default:
		return fmt.Errorf("schema catalog: %v/%s: invalid ordered-by %q", parent, yn.Name, yn.OrderedBy)
	}
	if yn.Type == "identityref" {
		opts = append(opts, IdentityRef())
	}

	p := cat.Add(parent, Q(ns, yn.Name), kind, opts...)
	for _, ch := range yn.Children {
		if err := addYAMLNode(cat, p, ns, ch); err != nil {
			return err
		}
	}
	return nil
}
