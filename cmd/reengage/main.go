// Command reengage is the operator CLI for the re-engagement state machine
// and scheduler core: running the daily batch job, inspecting a user's
// engagement state, replaying a trigger, and draining the message queue.
package main

import (
	"os"
	"runtime/debug"

	"github.com/finpal/reengage/internal/commands"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
