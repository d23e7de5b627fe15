// internal/paths/paths_test.go
package paths

import (
	"testing"

	"github.com/tamzrod/gcode-dispatcher/internal/config"
)

func testMapper() *Mapper {
	return NewMapper(config.DirectoriesConfig{
		GCodes:    "/sd/gcodes",
		System:    "/sd/sys",
		Macros:    "/sd/macros",
		Filaments: "/sd/filaments",
		Web:       "/sd/www",
		Scans:     "/sd/scans",
	})
}

func TestToPhysical(t *testing.T) {
	m := testMapper()

	cases := []struct {
		virtual  string
		fallback Dir
		want     string
	}{
		{"0:/gcodes/test.g", GCodes, "/sd/gcodes/test.g"},
		{"0:/sys/config.g", GCodes, "/sd/sys/config.g"},
		{"/macros/home/all.g", GCodes, "/sd/macros/home/all.g"},
		{"gcodes/nested/dir/file.g", System, "/sd/gcodes/nested/dir/file.g"},
		{"bare.g", GCodes, "/sd/gcodes/bare.g"},
		{"bare.g", System, "/sd/sys/bare.g"},
		{"0:/www/index.html", GCodes, "/sd/www/index.html"},
		{"", GCodes, "/sd/gcodes"},
		{"1:/filaments/PLA", GCodes, "/sd/filaments/PLA"},
	}

	for _, tc := range cases {
		if got := m.ToPhysical(tc.virtual, tc.fallback); got != tc.want {
			t.Errorf("ToPhysical(%q, %v)=%q want %q", tc.virtual, tc.fallback, got, tc.want)
		}
	}
}

func TestSetRedirectsDirectory(t *testing.T) {
	m := testMapper()

	m.Set(System, "/sd/alt-sys")
	if got := m.Physical(System); got != "/sd/alt-sys" {
		t.Fatalf("Physical(System)=%q", got)
	}
	if got := m.ToPhysical("0:/sys/config.g", GCodes); got != "/sd/alt-sys/config.g" {
		t.Fatalf("ToPhysical after Set=%q", got)
	}
}
