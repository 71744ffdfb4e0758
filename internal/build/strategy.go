// Package build selects and runs the build pipeline for one job: dependency
// installation, signed or unsigned xcodebuild, and artifact location.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hangar/rivet/internal/relay"
	"hangar/rivet/internal/toolchain"
)

// Build modes requested by the coordinator.
const (
	ModeSimulator = "simulator"
	ModeRelease   = "release"
)

// Product directories under the derived-data path, by build variant.
const (
	releaseProductDir   = "Build/Products/Release-iphoneos"
	simulatorProductDir = "Build/Products/Debug-iphonesimulator"
)

var (
	// ErrDependencyInstall is returned when pod install fails.
	ErrDependencyInstall = errors.New("dependency install failed")
	// ErrSigning is returned when importing the certificate or installing
	// the provisioning profile fails. A partially imported identity must
	// not fall back to an unsigned build.
	ErrSigning = errors.New("signing import failed")
	// ErrArtifactMissing is returned when the toolchain reports success
	// but the expected build product is absent.
	ErrArtifactMissing = errors.New("build artifact missing")
)

// Strategy drives dependency installation and build-variant selection.
// depRunner and buildRunner differ only in their wall-clock bounds.
type Strategy struct {
	depRunner   toolchain.Runner
	buildRunner toolchain.Runner
	relay       *relay.Relay
	keychain    string
	profileDir  string
}

// New creates a strategy. depRunner is used for dependency resolution,
// buildRunner for signing import and xcodebuild.
func New(depRunner, buildRunner toolchain.Runner, rl *relay.Relay) *Strategy {
	home, _ := os.UserHomeDir()
	return &Strategy{
		depRunner:   depRunner,
		buildRunner: buildRunner,
		relay:       rl,
		keychain:    "login.keychain",
		profileDir:  filepath.Join(home, "Library", "MobileDevice", "Provisioning Profiles"),
	}
}

// InstallDependencies runs pod install in the project root.
func (s *Strategy) InstallDependencies(ctx context.Context, jobID, projectRoot string) error {
	s.relay.Log(jobID, "installing dependencies")
	if _, err := s.depRunner.Run(ctx, projectRoot, "pod", "install"); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyInstall, err)
	}
	return nil
}

// Run executes the build for one job and returns the path of the produced
// .app bundle.
//
// Mode selection: simulator requests build unsigned directly. Release
// requests build signed only when the complete signing bundle is present;
// missing material downgrades to unsigned with a logged notice, while a
// failure during signing import is fatal for the job.
func (s *Strategy) Run(ctx context.Context, jobID, mode, projectRoot string) (string, error) {
	if mode != ModeRelease {
		return s.buildUnsigned(ctx, jobID, projectRoot)
	}

	bundle, missing, err := InspectBundle(projectRoot)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	if bundle == nil {
		s.relay.Log(jobID, "signing material incomplete (missing %s), falling back to simulator build",
			strings.Join(missing, ", "))
		return s.buildUnsigned(ctx, jobID, projectRoot)
	}

	if err := s.importSigningIdentity(ctx, jobID, projectRoot, bundle); err != nil {
		return "", err
	}

	return s.buildSigned(ctx, jobID, projectRoot)
}

func (s *Strategy) buildSigned(ctx context.Context, jobID, projectRoot string) (string, error) {
	s.relay.Log(jobID, "running signed release build")
	_, err := s.buildRunner.Run(ctx, projectRoot, "xcodebuild",
		"-configuration", "Release",
		"-sdk", "iphoneos",
		"-derivedDataPath", "build",
		"build",
	)
	if err != nil {
		return "", err
	}
	return s.locateArtifact(projectRoot, releaseProductDir)
}

func (s *Strategy) buildUnsigned(ctx context.Context, jobID, projectRoot string) (string, error) {
	s.relay.Log(jobID, "running simulator build")
	_, err := s.buildRunner.Run(ctx, projectRoot, "xcodebuild",
		"-configuration", "Debug",
		"-sdk", "iphonesimulator",
		"-derivedDataPath", "build",
		"CODE_SIGNING_ALLOWED=NO",
		"build",
	)
	if err != nil {
		return "", err
	}
	return s.locateArtifact(projectRoot, simulatorProductDir)
}

// locateArtifact finds the .app bundle under the product directory. The
// toolchain's own success signal is not trusted as sufficient.
func (s *Strategy) locateArtifact(projectRoot, productDir string) (string, error) {
	dir := filepath.Join(projectRoot, "build", filepath.FromSlash(productDir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: product directory %q: %v", ErrArtifactMissing, dir, err)
	}

	var apps []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), ".app") {
			apps = append(apps, entry.Name())
		}
	}
	if len(apps) == 0 {
		return "", fmt.Errorf("%w: no .app bundle in %q", ErrArtifactMissing, dir)
	}
	sort.Strings(apps)

	return filepath.Join(dir, apps[0]), nil
}
