package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePath = "dragons-keep/server"

// purePackages hold the session rules. They may import the standard library
// and each other, nothing else.
var purePackages = []string{
	modulePath + "/internal/geometry",
	modulePath + "/internal/movement",
	modulePath + "/internal/visibility",
}

type packageInfo struct {
	ImportPath string
	Imports    []string
}

func main() {
	args := append([]string{"list", "-json"}, relativePatterns()...)
	cmd := exec.Command("go", args...)
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	pkgs, err := decodePackages(output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: %v\n", err)
		os.Exit(1)
	}

	if found := violations(pkgs); len(found) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range found {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func relativePatterns() []string {
	patterns := make([]string, 0, len(purePackages))
	for _, pkg := range purePackages {
		patterns = append(patterns, "."+strings.TrimPrefix(pkg, modulePath)+"/...")
	}
	return patterns
}

func decodePackages(output []byte) ([]packageInfo, error) {
	decoder := json.NewDecoder(bytes.NewReader(output))
	var pkgs []packageInfo
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				return pkgs, nil
			}
			return nil, fmt.Errorf("failed to decode package info: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
}

func violations(pkgs []packageInfo) []string {
	var found []string
	for _, pkg := range pkgs {
		for _, imp := range pkg.Imports {
			if !allowedImport(imp) {
				found = append(found, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
			}
		}
	}
	sort.Strings(found)
	return found
}

func allowedImport(imp string) bool {
	first, _, _ := strings.Cut(imp, "/")
	if !strings.Contains(first, ".") && first != "dragons-keep" {
		return true
	}
	for _, pure := range purePackages {
		if imp == pure || strings.HasPrefix(imp, pure+"/") {
			return true
		}
	}
	return false
}
