package hooks

import (
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/ollm-run/ollmcore/pkg/types"
)

// shellMetaChars are rejected anywhere in a hook command: hooks are
// spawned without shell interpretation, so their presence signals an
// injection attempt or a misconfigured command.
const shellMetaChars = ";&|`$(){}[]<>"

// commandWhitelist lists the bare interpreter names allowed without an
// absolute path.
var commandWhitelist = map[string]bool{
	"node":    true,
	"python":  true,
	"python3": true,
	"bash":    true,
	"sh":      true,
	"npx":     true,
	"uvx":     true,
}

// ValidateCommand checks a hook's command line before it is spawned,
// aggregating every violation rather than stopping at the first.
func ValidateCommand(hook types.Hook) error {
	var result *multierror.Error

	if hook.Command == "" {
		result = multierror.Append(result, errors.New("hook command is empty"))
		return result.ErrorOrNil()
	}

	if i := strings.IndexAny(hook.Command, shellMetaChars); i >= 0 {
		result = multierror.Append(result,
			errors.Errorf("hook command contains forbidden character %q", hook.Command[i]))
	}
	for _, arg := range hook.Args {
		if i := strings.IndexAny(arg, shellMetaChars); i >= 0 {
			result = multierror.Append(result,
				errors.Errorf("hook argument %q contains forbidden character %q", arg, arg[i]))
		}
	}

	if !filepath.IsAbs(hook.Command) && !commandWhitelist[hook.Command] {
		result = multierror.Append(result,
			errors.Errorf("hook command %q must be an absolute path or a whitelisted interpreter", hook.Command))
	}

	return result.ErrorOrNil()
}
