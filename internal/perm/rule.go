package perm

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openmined/syftbus/internal/utils"
)

// PermFileName is the name of the permission file that governs a subtree.
const PermFileName = "syftperm.yaml"

// EmailTemplate binds a rule pattern to an email segment of the matched path.
const EmailTemplate = "{useremail}"

// TokenEveryone matches any user.
const TokenEveryone = "*"

// PermType is one of the four access bits.
type PermType string

const (
	PermRead   PermType = "read"
	PermCreate PermType = "create"
	PermWrite  PermType = "write"
	PermAdmin  PermType = "admin"
)

func (p PermType) Valid() bool {
	switch p {
	case PermRead, PermCreate, PermWrite, PermAdmin:
		return true
	}
	return false
}

// Rule grants or revokes permissions on paths below its permission file.
// DirPath and all matched paths are slash-separated and relative to the
// datasites root.
type Rule struct {
	DirPath     string
	Path        string
	User        string
	Allow       bool
	Permissions []PermType
	Priority    int
}

// PermFilePath returns the relative path of the permission file this rule
// came from.
func (r *Rule) PermFilePath() string {
	return path.Join(r.DirPath, PermFileName)
}

// Depth is the number of segments in the permission file path. Deeper files
// override shallower ones.
func (r *Rule) Depth() int {
	return len(strings.Split(r.PermFilePath(), "/"))
}

func (r *Rule) HasEmailTemplate() bool {
	return strings.Contains(r.Path, EmailTemplate)
}

// ResolvePattern substitutes the email template with a concrete email.
func (r *Rule) ResolvePattern(email string) string {
	return strings.ReplaceAll(r.Path, EmailTemplate, email)
}

func (r *Rule) Has(p PermType) bool {
	for _, rp := range r.Permissions {
		if rp == p {
			return true
		}
	}
	return false
}

// UserMatches reports whether the rule's user field covers the given user.
func (r *Rule) UserMatches(user string) bool {
	return r.User == TokenEveryone || r.User == user
}

// AppliesToPath reports whether the rule's pattern matches filePath for the
// given user. filePath is relative to the datasites root.
func (r *Rule) AppliesToPath(filePath string, user string) bool {
	rel, ok := relToDir(r.DirPath, filePath)
	if !ok {
		return false
	}
	pattern := r.Path
	if r.HasEmailTemplate() {
		pattern = r.ResolvePattern(user)
	}
	matched, err := doublestar.Match(pattern, rel)
	return err == nil && matched
}

// MatchesFile reports whether the rule matches filePath for any user, and if
// the rule carries an email template, which email segment it bound to.
func (r *Rule) MatchesFile(filePath string) (bool, string) {
	rel, ok := relToDir(r.DirPath, filePath)
	if !ok {
		return false, ""
	}

	if !r.HasEmailTemplate() {
		matched, err := doublestar.Match(r.Path, rel)
		return err == nil && matched, ""
	}

	for _, part := range strings.Split(rel, "/") {
		if !strings.Contains(part, "@") {
			continue
		}
		matched, err := doublestar.Match(r.ResolvePattern(part), rel)
		if err == nil && matched {
			return true, part
		}
	}
	return false, ""
}

func (r *Rule) validate() error {
	if strings.HasPrefix(r.Path, "../") || strings.Contains(r.Path, "/../") {
		return fmt.Errorf("%w: path %q escapes the permission file directory", ErrParsing, r.Path)
	}
	if r.User != TokenEveryone && !utils.IsValidEmail(r.User) {
		return fmt.Errorf("%w: user %q is not a valid email or *", ErrParsing, r.User)
	}
	if len(r.Permissions) == 0 {
		return fmt.Errorf("%w: rule for %q has no permissions", ErrParsing, r.Path)
	}
	for _, p := range r.Permissions {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown permission %q", ErrParsing, p)
		}
	}
	if star := strings.LastIndex(r.Path, "**"); star >= 0 {
		if tmpl := strings.Index(r.Path, EmailTemplate); tmpl >= 0 && star > tmpl {
			return fmt.Errorf("%w: ** can never be after %s", ErrParsing, EmailTemplate)
		}
	}
	return nil
}

// relToDir strips the dir prefix from filePath. A rule never matches its own
// directory node or anything outside it.
func relToDir(dir, filePath string) (string, bool) {
	dir = strings.Trim(dir, "/")
	filePath = strings.Trim(filePath, "/")
	if dir == "" || dir == "." {
		return filePath, filePath != ""
	}
	if !strings.HasPrefix(filePath, dir+"/") {
		return "", false
	}
	return filePath[len(dir)+1:], true
}

// IsPermFile reports whether the path names a permission file.
func IsPermFile(p string) bool {
	return path.Base(strings.ReplaceAll(p, "\\", "/")) == PermFileName
}
