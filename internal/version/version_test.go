package version

import (
	"strings"
	"testing"
)

func TestUserAgent_IncludesVersion(t *testing.T) {
	orig := Version
	Version = "v9.9.9"
	defer func() { Version = orig }()

	got := UserAgent()
	if !strings.HasPrefix(got, "tempmail-nexus/v9.9.9 ") {
		t.Fatalf("unexpected user agent %q", got)
	}
}

func TestGet_ReportsBuildMetadata(t *testing.T) {
	origV, origC := Version, Commit
	Version, Commit = "v1.2.3", "abc123"
	defer func() { Version, Commit = origV, origC }()

	info := Get()
	if info.Version != "v1.2.3" || info.Commit != "abc123" {
		t.Fatalf("unexpected info %+v", info)
	}
	if !strings.Contains(info.String(), "v1.2.3") {
		t.Fatalf("unexpected string %q", info.String())
	}
}
