package security

import (
	"strconv"
	"strings"

	"github.com/cuemby/ciorch/pkg/types"
)

// Attrs is the flattened view of a container snapshot conditions are
// evaluated against. Dotted/bracketed attribute names (label[name],
// env[name]) are resolved lazily from the underlying maps rather than
// pre-flattened, since a policy rarely references more than a handful.
type Attrs struct {
	container  *types.Container
	runAsRoot  bool
	readOnly   bool
	privileged bool
	command    []string
}

// NewAttrs builds an Attrs view from a container snapshot and the
// process-level security posture the runtime applied when creating it.
func NewAttrs(c *types.Container, runAsRoot, readOnlyRootfs, privileged bool, command []string) Attrs {
	return Attrs{container: c, runAsRoot: runAsRoot, readOnly: readOnlyRootfs, privileged: privileged, command: command}
}

// Get resolves a named attribute to its string value. Unknown or absent
// attributes resolve to "", matching the rest never producing a spurious
// match against an unset field.
func (a Attrs) Get(name string) string {
	switch {
	case name == "image_name":
		return imageName(a.container.ImageDigest)
	case name == "image_tag":
		return imageTag(a.container.ImageDigest)
	case name == "registry":
		return imageRegistry(a.container.ImageDigest)
	case name == "user":
		if a.runAsRoot {
			return "root"
		}
		return "non-root"
	case name == "command":
		return strings.Join(a.command, " ")
	case strings.HasPrefix(name, "label["):
		return a.container.Labels[bracketKey(name)]
	case strings.HasPrefix(name, "env["):
		return "" // env is not retained on the Container snapshot; scans read it live
	default:
		return ""
	}
}

func bracketKey(name string) string {
	start := strings.IndexByte(name, '[')
	end := strings.IndexByte(name, ']')
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return name[start+1 : end]
}

func imageName(ref string) string {
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}
	if i := strings.IndexByte(ref, '@'); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[:i]
	}
	return ref
}

func imageTag(ref string) string {
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[i+1:]
	}
	return "latest"
}

func imageRegistry(ref string) string {
	i := strings.IndexByte(ref, '/')
	if i < 0 {
		return ""
	}
	host := ref[:i]
	if strings.ContainsAny(host, ".:") || host == "localhost" {
		return host
	}
	return ""
}

// asNumber parses s as a float for greater_than/less_than comparisons;
// non-numeric values never satisfy either operator.
func asNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
