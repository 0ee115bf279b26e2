// Package argv validates and shapes the argv/envp vectors a spawn needs,
// the small "marshalling" component spec.md §4.3 calls out. Go's os/exec
// already owns the null-termination/vector-of-pointers step execve needs
// at the syscall boundary; what's left for this package is the part that
// is still the caller's responsibility to get right: rejecting vectors
// that can't round-trip through a NUL-terminated C string, and assembling
// the two vectors in the order os/exec.Cmd expects.
package argv

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrEmbeddedNUL is returned when an argv or envp element contains a NUL
// byte, which would silently truncate the string once it crosses into a
// C-string world (execve has no length-prefixed strings).
var ErrEmbeddedNUL = errors.New("argv: element contains embedded NUL byte")

// BuildArgv validates argv and returns it unchanged when it is non-empty,
// its first element being the argv[0] the process observes (which need not
// equal the executed path, matching execve's actual behavior). Only an
// empty argv is replaced by []string{name}; Start passes the executable
// path as name.
func BuildArgv(name string, argv []string) ([]string, error) {
	if err := validateVector("argv", argv); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return []string{name}, nil
	}
	return argv, nil
}

// BuildEnviron validates and returns envp unchanged. A nil or empty envp
// is valid (spec.md §3.2 permits an empty environment; only an unset
// Envp field is MissingEnvp, handled at the group layer).
func BuildEnviron(envp []string) ([]string, error) {
	if err := validateVector("envp", envp); err != nil {
		return nil, err
	}
	return envp, nil
}

func validateVector(kind string, vec []string) error {
	for i, s := range vec {
		if strings.IndexByte(s, 0) >= 0 {
			return errors.Wrapf(ErrEmbeddedNUL, "%s[%d]", kind, i)
		}
	}
	return nil
}
