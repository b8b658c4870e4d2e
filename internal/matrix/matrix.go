// Package matrix loads the test matrix: a YAML mapping from repository to
// distro to test options.
//
//	acme/widgets:
//	  fedora:
//	    docker: true
//	  centos:
//	    docker: "centos:7"
//
// Top-level keys starting with "." are templates: they are not repositories
// and exist only to carry anchors for aliases elsewhere in the document. A
// file holds exactly one document.
//
// A Matrix is immutable once loaded and safe for concurrent readers.
package matrix

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Key identifies one matrix entry.
type Key struct {
	Repo   string
	Distro string
}

// Matrix is the parsed test matrix.
type Matrix struct {
	entries map[Key]Options
}

// ParseError reports a malformed matrix document. No partial matrix is
// returned alongside it.
type ParseError struct {
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("test matrix: %v", e.Err)
	}
	return fmt.Sprintf("test matrix: line %d column %d: %s", e.Line, e.Column, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

func nodeError(n *yaml.Node, format string, args ...any) *ParseError {
	return &ParseError{Line: n.Line, Column: n.Column, Msg: fmt.Sprintf(format, args...)}
}

// templatePrefix marks top-level keys that are not repositories.
const templatePrefix = "."

// Load parses a matrix document. An empty document is an empty matrix. A
// second document in src is an error.
func Load(src []byte) (*Matrix, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))

	m := &Matrix{entries: make(map[Key]Options)}
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return m, nil
		}
		return nil, &ParseError{Err: err}
	}

	var extra yaml.Node
	switch err := dec.Decode(&extra); {
	case err == nil:
		return nil, nodeError(&extra, "multiple documents in one file; the test matrix must be a single document")
	case !errors.Is(err, io.EOF):
		return nil, &ParseError{Err: err}
	}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		return m, nil
	}

	root := resolve(doc.Content[0])
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return m, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, nodeError(root, "top level must be a mapping of repositories")
	}

	repos := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		repoNode, distrosNode := resolve(root.Content[i]), resolve(root.Content[i+1])
		repo, err := scalarKey(repoNode, "repository")
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(repo, templatePrefix) {
			continue
		}
		if repos[repo] {
			return nil, nodeError(repoNode, "duplicate repository %q", repo)
		}
		repos[repo] = true

		if err := m.addRepo(repo, distrosNode); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// LoadFile reads and parses the matrix at path.
func LoadFile(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading test matrix: %w", err)
	}
	return Load(data)
}

func (m *Matrix) addRepo(repo string, distros *yaml.Node) error {
	if isNull(distros) {
		return nil
	}
	if distros.Kind != yaml.MappingNode {
		return nodeError(distros, "repository %q must map distros to options", repo)
	}

	for i := 0; i+1 < len(distros.Content); i += 2 {
		distroNode, optionsNode := resolve(distros.Content[i]), resolve(distros.Content[i+1])
		distro, err := scalarKey(distroNode, "distro")
		if err != nil {
			return err
		}
		key := Key{Repo: repo, Distro: distro}
		if _, dup := m.entries[key]; dup {
			return nodeError(distroNode, "duplicate distro %q under %q", distro, repo)
		}

		options, err := parseOptions(key, optionsNode)
		if err != nil {
			return err
		}
		m.entries[key] = options
	}
	return nil
}

func parseOptions(key Key, n *yaml.Node) (Options, error) {
	options := Options{}
	if isNull(n) {
		return options, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, nodeError(n, "%s/%s must be a mapping of test options", key.Repo, key.Distro)
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		nameNode, valueNode := resolve(n.Content[i]), resolve(n.Content[i+1])
		name, err := scalarKey(nameNode, "option")
		if err != nil {
			return nil, err
		}
		if _, dup := options[name]; dup {
			return nil, nodeError(nameNode, "duplicate option %q in %s/%s", name, key.Repo, key.Distro)
		}
		if valueNode.Kind != yaml.ScalarNode {
			return nil, nodeError(valueNode, "option %q in %s/%s must be a boolean or string", name, key.Repo, key.Distro)
		}

		switch valueNode.Tag {
		case "!!bool":
			var b bool
			if err := valueNode.Decode(&b); err != nil {
				return nil, nodeError(valueNode, "option %q: %v", name, err)
			}
			options[name] = Bool(b)
		case "!!null":
			options[name] = Bool(false)
		default:
			options[name] = String(valueNode.Value)
		}
	}
	return options, nil
}

// OptionsFor returns a copy of the options for (repo, distro). Unknown pairs
// yield an empty, non-nil Options.
func (m *Matrix) OptionsFor(repo, distro string) Options {
	out := Options{}
	if m == nil {
		return out
	}
	for name, value := range m.entries[Key{Repo: repo, Distro: distro}] {
		out[name] = value
	}
	return out
}

// Keys returns all entry keys sorted by repository, then distro.
func (m *Matrix) Keys() []Key {
	if m == nil {
		return nil
	}
	keys := make([]Key, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Repo != keys[j].Repo {
			return keys[i].Repo < keys[j].Repo
		}
		return keys[i].Distro < keys[j].Distro
	})
	return keys
}

// Len returns the number of (repository, distro) entries.
func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Equal reports whether two matrices hold the same entries.
func (m *Matrix) Equal(other *Matrix) bool {
	if m.Len() != other.Len() {
		return false
	}
	for _, key := range m.Keys() {
		theirs, ok := other.entries[key]
		if !ok || len(theirs) != len(m.entries[key]) {
			return false
		}
		for name, value := range m.entries[key] {
			if theirs[name] != value {
				return false
			}
		}
	}
	return true
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func scalarKey(n *yaml.Node, what string) (string, error) {
	if n.Kind != yaml.ScalarNode || n.Value == "" {
		return "", nodeError(n, "%s name must be a non-empty scalar", what)
	}
	return n.Value, nil
}
