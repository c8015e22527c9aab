// Package recipe loads the JSON file describing what to execute in the
// guest: which files to place, which bytes are symbolic, and how to invoke
// the target.
package recipe

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Recipe describes one analysis target.
type Recipe struct {
	// Files maps guest paths to their content sources.
	Files map[string]FileSource `json:"files"`
	// ExecutablePath is the guest path of the binary to run.
	ExecutablePath string `json:"executable_path"`
	// StdinPath is the guest path fed to the target's stdin.
	StdinPath string `json:"stdin_path"`
	// Arg0 overrides the target's argv[0] when set.
	Arg0 *string `json:"arg0,omitempty"`
	// Arguments are the target's argv[1..].
	Arguments []ArgumentSource `json:"arguments,omitempty"`
	// Environment configures the target's environment variables.
	Environment Environment `json:"environment"`
}

// FileSource is one of: a host path, fixed symbolic content with a seed, or
// a host file with symbolic ranges. Exactly one variant is set.
type FileSource struct {
	// Host path (plain concrete file).
	Host string `json:"-"`
	// Seed is the concrete starting content for a symbolic file.
	Seed string `json:"seed,omitempty"`
	// HostPath is the host file backing a symbolic host file.
	HostPath string `json:"host_path,omitempty"`
	// Symbolic lists the byte ranges made symbolic.
	Symbolic []SymbolicRange `json:"symbolic,omitempty"`
}

// IsHost reports whether the source is a plain host file.
func (f *FileSource) IsHost() bool { return f.Host != "" }

// UnmarshalJSON accepts either a bare string (host path) or the symbolic
// object forms.
func (f *FileSource) UnmarshalJSON(data []byte) error {
	var host string
	if err := json.Unmarshal(data, &host); err == nil {
		*f = FileSource{Host: host}
		return nil
	}
	type fileSourceObject FileSource
	var obj fileSourceObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Seed == "" && obj.HostPath == "" {
		return errors.New("recipe: file source needs seed or host_path")
	}
	*f = FileSource(obj)
	return nil
}

// ArgumentSource is a concrete string or a symbolic seed with ranges.
type ArgumentSource struct {
	Concrete string          `json:"-"`
	Seed     string          `json:"seed,omitempty"`
	Symbolic []SymbolicRange `json:"symbolic,omitempty"`
}

// IsConcrete reports whether the argument is fully concrete.
func (a *ArgumentSource) IsConcrete() bool { return a.Seed == "" }

// UnmarshalJSON accepts either a bare string or the symbolic object form.
func (a *ArgumentSource) UnmarshalJSON(data []byte) error {
	var concrete string
	if err := json.Unmarshal(data, &concrete); err == nil {
		*a = ArgumentSource{Concrete: concrete}
		return nil
	}
	type argumentObject ArgumentSource
	var obj argumentObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Seed == "" {
		return errors.New("recipe: symbolic argument needs a seed")
	}
	*a = ArgumentSource(obj)
	return nil
}

// Environment configures the target's environment.
type Environment struct {
	Inherit bool                    `json:"inherit"`
	Remove  []string                `json:"remove,omitempty"`
	Add     map[string]EnvVarSource `json:"add,omitempty"`
}

// DefaultEnvironment inherits the host environment unchanged.
func DefaultEnvironment() Environment {
	return Environment{Inherit: true}
}

// EnvVarSource is a concrete value or a symbolic value with ranges.
type EnvVarSource struct {
	Concrete string          `json:"-"`
	Value    string          `json:"value,omitempty"`
	Symbolic []SymbolicRange `json:"symbolic,omitempty"`
}

// UnmarshalJSON accepts either a bare string or the symbolic object form.
func (e *EnvVarSource) UnmarshalJSON(data []byte) error {
	var concrete string
	if err := json.Unmarshal(data, &concrete); err == nil {
		*e = EnvVarSource{Concrete: concrete}
		return nil
	}
	type envVarObject EnvVarSource
	var obj envVarObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = EnvVarSource(obj)
	return nil
}

// SymbolicRange selects bytes made symbolic: a single index, an open-ended
// start, or a half-open [begin, end) range. On the wire it is a number or a
// one/two element array.
type SymbolicRange struct {
	Begin uint64
	// End is the exclusive upper bound; MaxUint64 means open-ended.
	End uint64
}

const openEnd = ^uint64(0)

// UnmarshalJSON accepts 3, [3], [3, 7] and [3, null].
func (r *SymbolicRange) UnmarshalJSON(data []byte) error {
	var idx uint64
	if err := json.Unmarshal(data, &idx); err == nil {
		*r = SymbolicRange{Begin: idx, End: idx + 1}
		return nil
	}
	var parts []*uint64
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("recipe: invalid symbolic range %s", data)
	}
	switch len(parts) {
	case 1:
		if parts[0] == nil {
			return fmt.Errorf("recipe: invalid symbolic range %s", data)
		}
		*r = SymbolicRange{Begin: *parts[0], End: *parts[0] + 1}
	case 2:
		if parts[0] == nil {
			return fmt.Errorf("recipe: invalid symbolic range %s", data)
		}
		if parts[1] == nil {
			*r = SymbolicRange{Begin: *parts[0], End: openEnd}
		} else {
			*r = SymbolicRange{Begin: *parts[0], End: *parts[1]}
		}
	default:
		return fmt.Errorf("recipe: invalid symbolic range %s", data)
	}
	return nil
}

// MarshalJSON renders the canonical two-element form.
func (r SymbolicRange) MarshalJSON() ([]byte, error) {
	if r.End == openEnd {
		return json.Marshal([]any{r.Begin, nil})
	}
	return json.Marshal([]uint64{r.Begin, r.End})
}

// Len returns the number of selected bytes.
func (r SymbolicRange) Len() uint64 {
	if r.End == openEnd {
		return openEnd
	}
	return r.End - r.Begin
}

// NormalizeRanges sorts and merges overlapping or touching-by-containment
// ranges in place.
func NormalizeRanges(ranges []SymbolicRange) []SymbolicRange {
	if len(ranges) == 0 {
		return ranges
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Begin != ranges[j].Begin {
			return ranges[i].Begin < ranges[j].Begin
		}
		return ranges[i].End > ranges[j].End
	})
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Begin <= last.End {
			last.Begin = min(last.Begin, r.Begin)
			last.End = max(last.End, r.End)
		} else {
			out = append(out, r)
		}
	}
	return out
}

// Error variants distinguish "not even JSON" from "JSON but not a recipe".
var (
	ErrNotUTF8   = errors.New("recipe: not utf-8")
	ErrNotJSON   = errors.New("recipe: not json")
	ErrNotRecipe = errors.New("recipe: json does not describe a recipe")
)

// Decode parses and normalizes a recipe from raw bytes.
func Decode(data []byte) (*Recipe, error) {
	if !utf8.Valid(data) {
		return nil, ErrNotUTF8
	}
	var ret Recipe
	ret.Environment = DefaultEnvironment()
	if err := json.Unmarshal(data, &ret); err != nil {
		var probe any
		if jsonErr := json.Unmarshal(data, &probe); jsonErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotJSON, jsonErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrNotRecipe, err)
	}
	if ret.ExecutablePath == "" {
		return nil, fmt.Errorf("%w: missing executable_path", ErrNotRecipe)
	}

	for path, file := range ret.Files {
		if !file.IsHost() {
			file.Symbolic = NormalizeRanges(file.Symbolic)
			ret.Files[path] = file
		}
	}
	for i := range ret.Arguments {
		if !ret.Arguments[i].IsConcrete() {
			ret.Arguments[i].Symbolic = NormalizeRanges(ret.Arguments[i].Symbolic)
		}
	}
	for name, env := range ret.Environment.Add {
		if env.Concrete == "" {
			env.Symbolic = NormalizeRanges(env.Symbolic)
			ret.Environment.Add[name] = env
		}
	}
	return &ret, nil
}

// Load reads and decodes a recipe file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipe: read %s: %w", path, err)
	}
	return Decode(data)
}
