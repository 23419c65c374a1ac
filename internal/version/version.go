// Package version reports build metadata. The package variables are set with -ldflags -X;
// anything left unset is filled from the binary's embedded VCS settings.
package version

import "runtime/debug"

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate string
	BuildId   string
	VCSDirty  *bool
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date,omitempty"`
	BuildId   string `json:"build_id,omitempty"`
	GoVersion string `json:"go_version"`
	VCSDirty  *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		BuildId:   BuildId,
		VCSDirty:  VCSDirty,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	return fromBuildInfo(info, bi)
}

func fromBuildInfo(info Info, bi *debug.BuildInfo) Info {
	info.GoVersion = bi.GoVersion
	settings := make(map[string]string, len(bi.Settings))
	for _, s := range bi.Settings {
		settings[s.Key] = s.Value
	}
	if rev := settings["vcs.revision"]; rev != "" && info.Commit == "none" {
		info.Commit = rev
	}
	if ts := settings["vcs.time"]; ts != "" && info.BuildDate == "" {
		info.BuildDate = ts
	}
	if info.VCSDirty == nil {
		switch settings["vcs.modified"] {
		case "true":
			v := true
			info.VCSDirty = &v
		case "false":
			v := false
			info.VCSDirty = &v
		}
	}
	return info
}
