package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	if got := v.String(); got != "Version: 1.2.3-rc1\nBuild: abcdef" {
		t.Fatalf("got %q", got)
	}
	v.Metadata = ""
	if got := v.String(); !strings.HasPrefix(got, "Version: 1.2.3\n") {
		t.Fatalf("got %q", got)
	}
}
