// Package version отдаёт сведения о сборке для логов и health-ответа.
package version

import (
	"fmt"
	"runtime/debug"
)

// Заполняются через -ldflags "-X .../internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

// Info возвращает версию, коммит и дату сборки. Если коммит не передан через ldflags,
// берётся vcs.revision и vcs.time, записанные go build.
func Info() (v, c, d string) {
	v, c, d = version, commit, date
	if c != "unknown" {
		return v, c, d
	}
	bi, ok := readBuildInfo()
	if !ok {
		return v, c, d
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			c = s.Value
		case "vcs.time":
			if d == "unknown" {
				d = s.Value
			}
		}
	}
	return v, c, d
}

func GetVersion() string { return version }

func GetCommit() string {
	_, c, _ := Info()
	return c
}

func GetDate() string {
	_, _, d := Info()
	return d
}

func String() string {
	v, c, d := Info()
	return fmt.Sprintf("payrecon version=%s commit=%s date=%s", v, c, d)
}
