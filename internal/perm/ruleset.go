package perm

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openmined/syftbus/internal/utils"
)

// RuleSet is one parsed syftperm.yaml. RelPath is the file's path relative
// to the datasites root, slash-separated.
type RuleSet struct {
	RelPath string
	Rules   []*Rule
}

// ruleDoc is the on-disk shape of a single rule. Permissions accepts a
// single string or a list.
type ruleDoc struct {
	Path        string   `yaml:"path"`
	User        string   `yaml:"user"`
	Permissions permList `yaml:"permissions"`
	Type        string   `yaml:"type,omitempty"`
}

type permList []PermType

func (p *permList) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*p = permList{PermType(strings.ToLower(single))}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("%w: permissions must be a string or list of strings", ErrParsing)
	}
	out := make(permList, 0, len(many))
	for _, s := range many {
		out = append(out, PermType(strings.ToLower(s)))
	}
	*p = out
	return nil
}

// Load parses syftperm.yaml content. relPath is the permission file path
// relative to the datasites root.
func Load(data []byte, relPath string) (*RuleSet, error) {
	var docs []ruleDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParsing, err)
	}
	if docs == nil {
		return nil, fmt.Errorf("%w: rules must be a list", ErrParsing)
	}

	relPath = utils.NormPath(relPath)
	dirPath := path.Dir(relPath)
	if dirPath == "." {
		dirPath = ""
	}

	rules := make([]*Rule, 0, len(docs))
	for i, doc := range docs {
		rule := &Rule{
			DirPath:     dirPath,
			Path:        doc.Path,
			User:        doc.User,
			Allow:       doc.Type != "disallow",
			Permissions: []PermType(doc.Permissions),
			Priority:    i,
		}
		if err := rule.validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return &RuleSet{RelPath: relPath, Rules: rules}, nil
}

// LoadFile parses the permission file at absPath, which must live under
// datasitesRoot.
func LoadFile(absPath string, datasitesRoot string) (*RuleSet, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read permission file %q: %w", absPath, err)
	}
	rel, err := filepath.Rel(datasitesRoot, absPath)
	if err != nil {
		return nil, fmt.Errorf("permission file %q not under %q: %w", absPath, datasitesRoot, err)
	}
	return Load(data, rel)
}

// Save writes the rule set to absPath in the on-disk YAML shape.
func (rs *RuleSet) Save(absPath string) error {
	docs := make([]ruleDoc, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		doc := ruleDoc{
			Path:        r.Path,
			User:        r.User,
			Permissions: permList(r.Permissions),
		}
		if !r.Allow {
			doc.Type = "disallow"
		}
		docs = append(docs, doc)
	}

	data, err := yaml.Marshal(docs)
	if err != nil {
		return fmt.Errorf("marshal permission file: %w", err)
	}
	return utils.WriteFileAtomic(absPath, data, 0o644)
}

// DirPath returns the directory the rule set governs.
func (rs *RuleSet) DirPath() string {
	d := path.Dir(rs.RelPath)
	if d == "." {
		return ""
	}
	return d
}

func (rs *RuleSet) Depth() int {
	return len(strings.Split(rs.RelPath, "/"))
}

// DatasiteDefault grants the owner full control over their whole datasite.
func DatasiteDefault(email string) *RuleSet {
	return &RuleSet{
		RelPath: path.Join(email, PermFileName),
		Rules: []*Rule{{
			DirPath:     email,
			Path:        "**",
			User:        email,
			Allow:       true,
			Permissions: []PermType{PermAdmin, PermCreate, PermWrite, PermRead},
			Priority:    0,
		}},
	}
}

// RPCDefault grants the owner admin and everyone read plus create, used for
// rpc endpoint directories so peers can drop request files in.
func RPCDefault(email string, dirRelPath string) *RuleSet {
	dirRelPath = utils.NormPath(dirRelPath)
	return &RuleSet{
		RelPath: path.Join(dirRelPath, PermFileName),
		Rules: []*Rule{
			{
				DirPath:     dirRelPath,
				Path:        "**",
				User:        email,
				Allow:       true,
				Permissions: []PermType{PermAdmin},
				Priority:    0,
			},
			{
				DirPath:     dirRelPath,
				Path:        "**",
				User:        TokenEveryone,
				Allow:       true,
				Permissions: []PermType{PermCreate, PermRead},
				Priority:    1,
			},
		},
	}
}

// PublicReadDefault grants the owner admin plus read for everyone, used for
// public/ directories.
func PublicReadDefault(email string, dirRelPath string) *RuleSet {
	dirRelPath = utils.NormPath(dirRelPath)
	return &RuleSet{
		RelPath: path.Join(dirRelPath, PermFileName),
		Rules: []*Rule{
			{
				DirPath:     dirRelPath,
				Path:        "**",
				User:        email,
				Allow:       true,
				Permissions: []PermType{PermAdmin},
				Priority:    0,
			},
			{
				DirPath:     dirRelPath,
				Path:        "**",
				User:        TokenEveryone,
				Allow:       true,
				Permissions: []PermType{PermRead},
				Priority:    1,
			},
		},
	}
}
