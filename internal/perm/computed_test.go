package perm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, yml string, relPath string) *RuleSet {
	t.Helper()
	rs, err := Load([]byte(yml), relPath)
	require.NoError(t, err)
	return rs
}

func TestCompute_OwnerAlwaysAllowed(t *testing.T) {
	cp := Compute(nil, "alice@example.com", "alice@example.com/private/secret.txt")
	assert.True(t, cp.Has(PermRead))
	assert.True(t, cp.Has(PermWrite))
	assert.True(t, cp.Has(PermAdmin))
}

func TestCompute_DefaultDeny(t *testing.T) {
	cp := Compute(nil, "bob@example.com", "alice@example.com/private/secret.txt")
	assert.False(t, cp.Has(PermRead))
	assert.False(t, cp.Has(PermWrite))
	assert.False(t, cp.Has(PermCreate))
	assert.False(t, cp.Has(PermAdmin))
}

func TestCompute_PublicRead(t *testing.T) {
	rs := mustLoad(t, `
- path: "**"
  user: "*"
  permissions: read
`, "alice@example.com/public/syftperm.yaml")

	cp := Compute(rs.Rules, "bob@example.com", "alice@example.com/public/notes.txt")
	assert.True(t, cp.Has(PermRead))
	assert.False(t, cp.Has(PermWrite))
}

func TestCompute_AdminImpliesAll(t *testing.T) {
	rs := mustLoad(t, `
- path: "**"
  user: bob@example.com
  permissions: admin
`, "alice@example.com/syftperm.yaml")

	cp := Compute(rs.Rules, "bob@example.com", "alice@example.com/anything/file.bin")
	assert.True(t, cp.Has(PermRead))
	assert.True(t, cp.Has(PermCreate))
	assert.True(t, cp.Has(PermWrite))
	assert.True(t, cp.Has(PermAdmin))
}

func TestCompute_WriteRequiresRead(t *testing.T) {
	rs := mustLoad(t, `
- path: "**"
  user: bob@example.com
  permissions: [write, create]
`, "alice@example.com/drop/syftperm.yaml")

	cp := Compute(rs.Rules, "bob@example.com", "alice@example.com/drop/file.txt")
	assert.False(t, cp.Has(PermWrite), "write without read must deny")
	assert.False(t, cp.Has(PermCreate))
}

func TestCompute_PermFileEditRequiresAdmin(t *testing.T) {
	rs := mustLoad(t, `
- path: "**"
  user: bob@example.com
  permissions: [read, write, create]
`, "alice@example.com/shared/syftperm.yaml")

	target := "alice@example.com/shared/sub/syftperm.yaml"
	cp := Compute(rs.Rules, "bob@example.com", target)
	assert.True(t, cp.Has(PermRead))
	assert.False(t, cp.Has(PermWrite))
	assert.False(t, cp.Has(PermCreate))
}

func TestCompute_DeeperFileOverrides(t *testing.T) {
	top := mustLoad(t, `
- path: "**"
  user: "*"
  permissions: read
`, "alice@example.com/syftperm.yaml")
	sub := mustLoad(t, `
- path: "**"
  user: "*"
  permissions: read
  type: disallow
`, "alice@example.com/private/syftperm.yaml")

	rules := append(top.Rules, sub.Rules...)

	cp := Compute(rules, "bob@example.com", "alice@example.com/private/secret.txt")
	assert.False(t, cp.Has(PermRead))

	cp = Compute(rules, "bob@example.com", "alice@example.com/other.txt")
	assert.True(t, cp.Has(PermRead))
}

func TestCompute_LaterRuleOverridesWithinFile(t *testing.T) {
	rs := mustLoad(t, `
- path: "**"
  user: "*"
  permissions: read
- path: "secret/**"
  user: "*"
  permissions: read
  type: disallow
`, "alice@example.com/syftperm.yaml")

	cp := Compute(rs.Rules, "bob@example.com", "alice@example.com/secret/key.pem")
	assert.False(t, cp.Has(PermRead))

	cp = Compute(rs.Rules, "bob@example.com", "alice@example.com/open.txt")
	assert.True(t, cp.Has(PermRead))
}

func TestCompute_EmailTemplateBindsToUser(t *testing.T) {
	rs := mustLoad(t, `
- path: "{useremail}/inbox.json"
  user: "*"
  permissions: [read, write]
`, "alice@example.com/mail/syftperm.yaml")

	cp := Compute(rs.Rules, "bob@example.com", "alice@example.com/mail/bob@example.com/inbox.json")
	assert.True(t, cp.Has(PermRead))
	assert.True(t, cp.Has(PermWrite))

	cp = Compute(rs.Rules, "carol@example.com", "alice@example.com/mail/bob@example.com/inbox.json")
	assert.False(t, cp.Has(PermRead))
}
