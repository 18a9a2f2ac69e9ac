// Package pypkg checks and installs the Python packages a script needs
// before it runs. Detection merges imports found in the script source with
// the requirements the uploader declared; installation shells out to pip.
package pypkg

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sakif/script-runner/internal/apperror"
)

const (
	pipListTimeout = 30 * time.Second
	installTimeout = 5 * time.Minute
	verifyTimeout  = 15 * time.Second
)

// standardLibrary lists module names that never need installing.
var standardLibrary = map[string]struct{}{
	"os": {}, "sys": {}, "subprocess": {}, "datetime": {}, "time": {},
	"json": {}, "csv": {}, "sqlite3": {}, "math": {}, "random": {},
	"collections": {}, "itertools": {}, "functools": {}, "re": {}, "uuid": {},
	"pathlib": {}, "typing": {}, "ast": {}, "threading": {}, "multiprocessing": {},
	"socket": {}, "urllib": {}, "http": {}, "email": {}, "smtplib": {},
	"ftplib": {}, "zipfile": {}, "tarfile": {}, "configparser": {}, "logging": {},
	"argparse": {}, "shutil": {}, "tempfile": {}, "pickle": {}, "base64": {},
	"hashlib": {}, "hmac": {}, "secrets": {}, "getpass": {}, "platform": {},
	"traceback": {}, "warnings": {}, "inspect": {}, "gc": {}, "weakref": {},
	"copy": {}, "pprint": {}, "string": {}, "io": {}, "struct": {},
}

var importLine = regexp.MustCompile(`^\s*(?:import\s+([A-Za-z_][\w.]*)|from\s+([A-Za-z_][\w.]*)\s+import\b)`)

// Report is the full dependency picture for one script.
type Report struct {
	DetectedImports []string
	Declared        []string
	Installed       []string
	Missing         []string
	Warnings        []string
	InstallCommand  string
	InstallLog      string
}

// Resolver shells out to the configured Python interpreter for pip
// operations and import verification.
type Resolver struct {
	Interpreter string
}

func NewResolver(interpreter string) *Resolver {
	return &Resolver{Interpreter: interpreter}
}

// DetectImports scans a script's source for top-level package names
// imported via "import x" or "from x import y", excluding the standard
// library. Names are lowercased and sorted.
func DetectImports(scriptPath string) ([]string, error) {
	f, err := os.Open(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("pypkg: reading script: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := importLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		name := m[1]
		if name == "" {
			name = m[2]
		}
		// "matplotlib.pyplot" installs as "matplotlib"
		base := strings.ToLower(strings.SplitN(name, ".", 2)[0])
		if _, std := standardLibrary[base]; std {
			continue
		}
		seen[base] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pypkg: scanning script: %w", err)
	}

	imports := make([]string, 0, len(seen))
	for name := range seen {
		imports = append(imports, name)
	}
	sort.Strings(imports)
	return imports, nil
}

// ParseDeclared splits a comma-separated requirements string.
func ParseDeclared(requirements string) []string {
	var declared []string
	for _, pkg := range strings.Split(requirements, ",") {
		if pkg = strings.TrimSpace(pkg); pkg != "" {
			declared = append(declared, pkg)
		}
	}
	return declared
}

// InstallCommand is the pip invocation a user would run by hand.
func InstallCommand(packages []string) string {
	if len(packages) == 0 {
		return ""
	}
	return "pip install " + strings.Join(packages, " ")
}

// Analyze builds the dependency report for a script: detected imports plus
// declared requirements, checked against the interpreter's installed
// package list. pip being unavailable produces a warning, not an error.
func (r *Resolver) Analyze(ctx context.Context, scriptPath, requirements string) (*Report, error) {
	detected, err := DetectImports(scriptPath)
	if err != nil {
		return nil, err
	}

	report := &Report{
		DetectedImports: detected,
		Declared:        ParseDeclared(requirements),
	}

	required := make(map[string]struct{})
	for _, pkg := range detected {
		required[pkg] = struct{}{}
	}
	for _, pkg := range report.Declared {
		required[normalize(pkg)] = struct{}{}
	}
	if len(required) == 0 {
		return report, nil
	}

	installed, err := r.installedPackages(ctx)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("could not list installed packages: %v", err))
		return report, nil
	}

	for pkg := range required {
		if _, ok := installed[pkg]; ok {
			report.Installed = append(report.Installed, pkg)
		} else {
			report.Missing = append(report.Missing, pkg)
		}
	}
	sort.Strings(report.Installed)
	sort.Strings(report.Missing)
	report.InstallCommand = InstallCommand(report.Missing)
	return report, nil
}

// Install runs pip install for the given packages and returns the combined
// output. A non-zero pip exit is returned as an error with the output as
// the log.
func (r *Resolver) Install(ctx context.Context, packages []string) (string, error) {
	if len(packages) == 0 {
		return "", nil
	}

	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	args := append([]string{"-m", "pip", "install"}, packages...)
	out, err := exec.CommandContext(installCtx, r.Interpreter, args...).CombinedOutput()
	log := string(out)
	if installCtx.Err() == context.DeadlineExceeded {
		return log, fmt.Errorf("pypkg: pip install timed out after %s", installTimeout)
	}
	if err != nil {
		return log, fmt.Errorf("pypkg: pip install failed: %w", err)
	}
	return log, nil
}

// Verify confirms each package actually imports after installation.
// Executing a script against a dependency that installed but cannot import
// is worse than failing fast, so the first failure aborts with a package
// verification error.
func (r *Resolver) Verify(ctx context.Context, packages []string) error {
	for _, pkg := range packages {
		name := normalize(pkg)
		verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
		err := exec.CommandContext(verifyCtx, r.Interpreter, "-c", "import "+name).Run()
		cancel()
		if err != nil {
			return apperror.PackageVerification(name)
		}
	}
	return nil
}

func (r *Resolver) installedPackages(ctx context.Context) (map[string]struct{}, error) {
	listCtx, cancel := context.WithTimeout(ctx, pipListTimeout)
	defer cancel()

	out, err := exec.CommandContext(listCtx, r.Interpreter, "-m", "pip", "list", "--format=freeze").Output()
	if err != nil {
		return nil, fmt.Errorf("pip list: %w", err)
	}

	installed := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		if name, _, ok := strings.Cut(line, "=="); ok {
			installed[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
		}
	}
	return installed, nil
}

// normalize strips version specifiers: "requests>=2.0" becomes "requests".
func normalize(pkg string) string {
	name := strings.ToLower(strings.TrimSpace(pkg))
	if i := strings.IndexAny(name, "><=!"); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}
