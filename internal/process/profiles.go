package process

import "fmt"

// javaProfiles maps a named GC-tuning profile to its fixed JVM flag list.
// Additional profiles can be registered from configuration at startup.
var javaProfiles = map[string][]string{
	"g1gc-balanced": {
		"-XX:+UseG1GC",
		"-XX:MaxGCPauseMillis=100",
		"-XX:+ParallelRefProcEnabled",
		"-XX:+UnlockExperimentalVMOptions",
		"-XX:+AlwaysPreTouch",
		"-XX:G1NewSizePercent=20",
		"-XX:G1MaxNewSizePercent=35",
		"-XX:G1HeapRegionSize=16M",
		"-XX:G1ReservePercent=20",
		"-XX:InitiatingHeapOccupancyPercent=15",
	},
	"g1gc-performance": {
		"-XX:+UseG1GC",
		"-XX:MaxGCPauseMillis=50",
		"-XX:+ParallelRefProcEnabled",
		"-XX:+UnlockExperimentalVMOptions",
		"-XX:+AlwaysPreTouch",
		"-XX:G1NewSizePercent=30",
		"-XX:G1MaxNewSizePercent=40",
		"-XX:G1HeapRegionSize=32M",
		"-XX:G1ReservePercent=15",
		"-XX:InitiatingHeapOccupancyPercent=10",
	},
}

// ResolveJavaProfile returns the flag list for a named profile.
func ResolveJavaProfile(name string) ([]string, bool) {
	flags, ok := javaProfiles[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), flags...), true
}

// RegisterJavaProfile adds or replaces a named profile. Called once from the
// composition root while loading configuration, before any spawns.
func RegisterJavaProfile(name string, flags []string) {
	javaProfiles[name] = append([]string(nil), flags...)
}

func heapFlag(gb int) string { return fmt.Sprintf("-Xmx%dG", gb) }
