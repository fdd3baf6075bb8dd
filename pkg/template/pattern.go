package template

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var tokenPattern = regexp.MustCompile(`\{(frame_pad|project_dir|file_name|flag:[^}]+|date:[^}]+|time:[^}]+)\}`)

// ResolvePattern pure-functionally expands a default_pattern string given
// flag values, the current frame padding width, a project dir, a file name,
// and a reference clock, then cleans up separator artifacts left behind by
// tokens that resolved to empty.
func ResolvePattern(pattern string, flagValues map[string]string, framePad int, projectDir, fileName string, at time.Time) string {
	expanded := tokenPattern.ReplaceAllStringFunc(pattern, func(tok string) string {
		inner := tok[1 : len(tok)-1]
		switch {
		case inner == "frame_pad":
			return strconv.Itoa(framePad)
		case inner == "project_dir":
			return projectDir
		case inner == "file_name":
			return fileName
		case strings.HasPrefix(inner, "flag:"):
			return flagValues[strings.TrimPrefix(inner, "flag:")]
		case strings.HasPrefix(inner, "date:"):
			return resolveDateToken(strings.TrimPrefix(inner, "date:"), at)
		case strings.HasPrefix(inner, "time:"):
			return resolveTimeToken(strings.TrimPrefix(inner, "time:"), at)
		default:
			return ""
		}
	})
	return cleanupSeparators(expanded)
}

func resolveDateToken(spec string, at time.Time) string {
	switch spec {
	case "YYYY":
		return at.Format("2006")
	case "YYYYMMDD":
		return at.Format("20060102")
	case "MM":
		return at.Format("01")
	case "DD":
		return at.Format("02")
	default:
		return ""
	}
}

func resolveTimeToken(spec string, at time.Time) string {
	switch spec {
	case "HH":
		return at.Format("15")
	case "mm":
		return at.Format("04")
	case "HHmm":
		return at.Format("1504")
	default:
		return ""
	}
}

// separatorArtifacts maps byte sequences left behind when an adjacent token
// resolved to empty onto their cleaned-up form. Order matters: longer,
// more specific patterns are collapsed first.
var separatorArtifacts = []struct {
	from, to string
}{
	{"--", "-"},
	{"-/", "/"},
	{"/-", "/"},
	{"-_", "_"},
	{"_-", "_"},
	{"__", "_"},
}

func cleanupSeparators(s string) string {
	for {
		changed := false
		for _, a := range separatorArtifacts {
			if strings.Contains(s, a.from) {
				s = strings.ReplaceAll(s, a.from, a.to)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return s
}
