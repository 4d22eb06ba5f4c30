package users

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// PrivilegedFileName is the membership file inside the host lock directory
const PrivilegedFileName = "privileged_users"

// Set is an immutable set of privileged usernames, loaded once per invocation
type Set map[string]struct{}

// Load reads a whitespace-separated username list from path.
// A missing file yields an empty set: nobody is privileged.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Set{}, nil
		}
		return nil, errors.Wrapf(err, "reading privileged users file %s", path)
	}

	set := Set{}
	for _, name := range strings.Fields(string(data)) {
		set[name] = struct{}{}
	}
	return set, nil
}

// Contains reports whether user is privileged
func (s Set) Contains(user string) bool {
	_, ok := s[user]
	return ok
}
