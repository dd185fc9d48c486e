package perm

import "errors"

var (
	// ErrParsing covers any malformed syftperm.yaml content. Files failing
	// with it are skipped by the indexer, never fatal.
	ErrParsing = errors.New("permission parsing error")

	ErrNoRules = errors.New("no rules")
)
