// SPDX-License-Identifier: MPL-2.0

package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sitepkg/sitepkg/internal/platform"
)

// launcherManifest is the side-by-side manifest written next to a Windows
// console-script launcher.
const launcherManifest = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<assembly xmlns="urn:schemas-microsoft-com:asm.v1" manifestVersion="1.0">
  <assemblyIdentity version="1.0.0.0" processorArchitecture="*" name="%s" type="win32"/>
  <trustInfo xmlns="urn:schemas-microsoft-com:asm.v3">
    <security>
      <requestedPrivileges>
        <requestedExecutionLevel level="asInvoker" uiAccess="false"/>
      </requestedPrivileges>
    </security>
  </trustInfo>
</assembly>
`

// launcherStub stands in for the launcher executable; only its presence and
// removal matter to the environment.
var launcherStub = []byte("MZ sitepkg console launcher\n")

// AddScript writes a console-script wrapper named name into the bin directory
// and returns the paths written. POSIX platforms get a single executable
// `<name>`; Windows gets `<name>.exe`, `<name>-script.py` and
// `<name>.exe.manifest`.
func (s *Session) AddScript(name string, body []byte) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid console script name %q", name)
	}
	if s.in.goos == platform.Windows && platform.IsWindowsReservedName(name) {
		return nil, fmt.Errorf("console script name %q is reserved on Windows", name)
	}
	bin := s.in.layout.BinDir

	type entry struct {
		path string
		data []byte
		perm os.FileMode
	}
	var entries []entry
	if s.in.goos == platform.Windows {
		entries = []entry{
			{filepath.Join(bin, name+".exe"), launcherStub, 0o755},
			{filepath.Join(bin, name+"-script.py"), body, 0o644},
			{filepath.Join(bin, name+".exe.manifest"), []byte(fmt.Sprintf(launcherManifest, name)), 0o644},
		}
	} else {
		entries = []entry{{filepath.Join(bin, name), body, 0o755}}
	}

	written := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := s.WriteFile(e.path, e.data, e.perm); err != nil {
			return written, err
		}
		written = append(written, e.path)
	}
	return written, nil
}
