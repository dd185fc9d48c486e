package perm

import (
	"sort"
	"strings"

	"github.com/openmined/syftbus/internal/utils"
)

// ComputedPermission is the resolved access vector for one (user, path) pair.
type ComputedPermission struct {
	user     string
	filePath string
	perms    map[PermType]bool
}

// Compute resolves the access vector by applying rules in ascending
// override-strength order. Rules from deeper permission files override
// shallower ones; within a file, later rules override earlier.
func Compute(rules []*Rule, user string, filePath string) *ComputedPermission {
	filePath = utils.NormPath(filePath)

	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Depth() != sorted[j].Depth() {
			return sorted[i].Depth() < sorted[j].Depth()
		}
		return sorted[i].Priority < sorted[j].Priority
	})

	cp := &ComputedPermission{
		user:     user,
		filePath: filePath,
		perms: map[PermType]bool{
			PermRead:   false,
			PermCreate: false,
			PermWrite:  false,
			PermAdmin:  false,
		},
	}
	for _, rule := range sorted {
		cp.apply(rule)
	}
	return cp
}

func (cp *ComputedPermission) apply(rule *Rule) {
	if !rule.UserMatches(cp.user) || !rule.AppliesToPath(cp.filePath, cp.user) {
		return
	}
	for _, p := range rule.Permissions {
		// permfile edits are admin-gated, never settable by plain rules
		if cp.permFileEdit(p) {
			continue
		}
		cp.perms[p] = rule.Allow
	}
}

// PathOwner is the datasite owner, the first path segment.
func (cp *ComputedPermission) PathOwner() string {
	owner, _, _ := strings.Cut(cp.filePath, "/")
	return owner
}

// Has applies the fixed overrides on top of the raw rule vector:
// owners hold every permission on their own datasite, admin implies
// everything, permission file edits require admin, and create/write
// additionally require read.
func (cp *ComputedPermission) Has(p PermType) bool {
	if cp.PathOwner() == cp.user {
		return true
	}
	if cp.perms[PermAdmin] {
		return true
	}
	if cp.permFileEdit(p) {
		return cp.perms[PermAdmin]
	}
	if p == PermCreate || p == PermWrite {
		return cp.perms[PermRead] && cp.perms[p]
	}
	return cp.perms[p]
}

func (cp *ComputedPermission) permFileEdit(p PermType) bool {
	return IsPermFile(cp.filePath) && (p == PermCreate || p == PermWrite)
}
